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

import "math"

// VolatilityCalculator tracks the EWMA and EWM standard deviation of simple
// price returns. lambda is the weight given to the newest observation.
type VolatilityCalculator struct {
	lambda        float64
	prevPrice     float64
	ewmaReturn    float64
	ewmVarReturn  float64
	isInitialized bool
}

// NewVolatilityCalculator creates a new VolatilityCalculator.
func NewVolatilityCalculator(lambda float64) *VolatilityCalculator {
	return &VolatilityCalculator{lambda: lambda}
}

// Update feeds the next price and returns the EWMA of returns and the EWM
// standard deviation. The first price only seeds the calculator.
func (vc *VolatilityCalculator) Update(currentPrice float64) (ewmaRet float64, ewmStdDev float64) {
	if !vc.isInitialized {
		vc.prevPrice = currentPrice
		vc.isInitialized = true
		return 0, 0
	}
	if vc.prevPrice == 0 {
		vc.prevPrice = currentPrice
		return 0, 0
	}

	ret := (currentPrice - vc.prevPrice) / vc.prevPrice
	vc.ewmaReturn = vc.lambda*ret + (1-vc.lambda)*vc.ewmaReturn
	// Zero-mean variance, RiskMetrics style.
	vc.ewmVarReturn = (1-vc.lambda)*vc.ewmVarReturn + vc.lambda*(ret*ret)
	vc.prevPrice = currentPrice

	return vc.ewmaReturn, math.Sqrt(vc.ewmVarReturn)
}

// GetEWMStandardDeviation returns the current EWM standard deviation of returns.
func (vc *VolatilityCalculator) GetEWMStandardDeviation() float64 {
	if !vc.isInitialized || vc.ewmVarReturn < 0 {
		return 0
	}
	return math.Sqrt(vc.ewmVarReturn)
}

// ReturnVolatility runs a calculator over the whole series and returns the
// final EWM standard deviation of returns.
func ReturnVolatility(prices []float64, lambda float64) float64 {
	vc := NewVolatilityCalculator(lambda)
	var std float64
	for _, p := range prices {
		_, std = vc.Update(p)
	}
	return std
}

// CalculateRealizedVolatility returns the population standard deviation of
// the log returns of prices.
func CalculateRealizedVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0.0
	}

	var logReturns []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		logReturns = append(logReturns, math.Log(prices[i]/prices[i-1]))
	}
	if len(logReturns) == 0 {
		return 0.0
	}

	var sum float64
	for _, lr := range logReturns {
		sum += lr
	}
	mean := sum / float64(len(logReturns))

	var variance float64
	for _, lr := range logReturns {
		variance += math.Pow(lr-mean, 2)
	}
	variance /= float64(len(logReturns))

	return math.Sqrt(variance)
}
