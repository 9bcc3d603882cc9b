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

// RSI returns the relative strength index over the last period price changes,
// using the simple mean of gains and losses. A window with no losses reads
// 100, and a flat window reads 50.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	var gain, loss float64
	window := closes[len(closes)-period-1:]
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	switch {
	case loss == 0 && gain == 0:
		return 50, true
	case loss == 0:
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// Bands is a Bollinger envelope.
type Bands struct {
	Middle float64
	Upper  float64
	Lower  float64
}

// Bollinger returns the bands of width k sample standard deviations around
// the period SMA.
func Bollinger(closes []float64, period int, k float64) (Bands, bool) {
	mid, ok := SMA(closes, period)
	if !ok {
		return Bands{}, false
	}
	sd, ok := StdDev(closes, period)
	if !ok {
		return Bands{}, false
	}
	return Bands{Middle: mid, Upper: mid + k*sd, Lower: mid - k*sd}, true
}
