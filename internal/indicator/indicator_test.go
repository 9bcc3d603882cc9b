// Copyright (c) 2024 OBI-Scalp-Bot
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	_, ok := EMA(nil, 10)
	assert.False(t, ok)
	_, ok = EMA([]float64{1}, 0)
	assert.False(t, ok)

	v, ok := EMA([]float64{5, 5, 5, 5}, 3)
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	// span 3 -> alpha 0.5: 10, 15, 17.5
	series := EMASeries([]float64{10, 20, 20}, 3)
	assert.InDeltaSlice(t, []float64{10, 15, 17.5}, series, 1e-12)

	fast, _ := EMA(rising(300), 50)
	slow, _ := EMA(rising(300), 200)
	assert.Greater(t, fast, slow, "fast EMA leads in an uptrend")
}

func TestSMAAndStdDev(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4}, 2)
	require.True(t, ok)
	assert.Equal(t, 3.5, v)

	_, ok = SMA([]float64{1}, 2)
	assert.False(t, ok)

	sd, ok := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	require.True(t, ok)
	assert.InDelta(t, math.Sqrt(32.0/7.0), sd, 1e-12)

	_, ok = StdDev([]float64{1, 2}, 1)
	assert.False(t, ok)
}

func TestRSI(t *testing.T) {
	_, ok := RSI([]float64{1, 2, 3}, 14)
	assert.False(t, ok)

	v, ok := RSI(rising(20), 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	v, _ = RSI(flat(20, 7), 14)
	assert.Equal(t, 50.0, v)

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	v, _ = RSI(falling, 14)
	assert.Equal(t, 0.0, v)

	// One gain of 2 and one loss of 1 -> RS 2 -> 66.67
	v, _ = RSI([]float64{10, 12, 11}, 2)
	assert.InDelta(t, 100-100/3.0, v, 1e-9)
}

func TestBollinger(t *testing.T) {
	_, ok := Bollinger([]float64{1, 2}, 20, 2)
	assert.False(t, ok)

	b, ok := Bollinger(flat(20, 10), 20, 2)
	require.True(t, ok)
	assert.Equal(t, Bands{Middle: 10, Upper: 10, Lower: 10}, b)

	b, ok = Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	require.True(t, ok)
	sd := math.Sqrt(32.0 / 7.0)
	assert.InDelta(t, 5.0, b.Middle, 1e-12)
	assert.InDelta(t, 5+2*sd, b.Upper, 1e-12)
	assert.InDelta(t, 5-2*sd, b.Lower, 1e-12)
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
