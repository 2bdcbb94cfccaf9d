package indicator

import (
	"math"

	"swingbot/internal/domain"
)

// Series holds one derived value per bar, aligned one-to-one with the bar
// sequence it was computed from. Entries before the indicator's minimum
// lookback are explicitly undefined; they must never be compared as if valid.
type Series struct {
	Values  []float64
	Defined []bool
}

func newSeries(n int) Series {
	return Series{
		Values:  make([]float64, n),
		Defined: make([]bool, n),
	}
}

// Len returns the number of entries in the series.
func (s Series) Len() int { return len(s.Values) }

// At returns the value at index i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s.Values) || !s.Defined[i] {
		return 0, false
	}
	return s.Values[i], true
}

// LastTwo returns the two most recent entries. ok is false unless both are
// defined, which is the precondition for every crossover comparison.
func (s Series) LastTwo() (prev, curr float64, ok bool) {
	n := len(s.Values)
	if n < 2 || !s.Defined[n-1] || !s.Defined[n-2] {
		return 0, 0, false
	}
	return s.Values[n-2], s.Values[n-1], true
}

// SMA computes the simple moving average of the trailing period closes.
// Undefined until period bars exist.
func SMA(bars []domain.Bar, period int) Series {
	s := newSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return s
	}
	var sum float64
	for i, b := range bars {
		sum += b.Close
		if i >= period {
			sum -= bars[i-period].Close
		}
		if i >= period-1 {
			s.Values[i] = sum / float64(period)
			s.Defined[i] = true
		}
	}
	return s
}

// EMA computes the exponential moving average of the closes, seeded with the
// SMA of the first period closes. Undefined until period bars exist.
func EMA(bars []domain.Bar, period int) Series {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return emaOf(closes, nil, period)
}

// emaOf computes an EMA over raw values. defined marks which input entries are
// valid; nil means all of them. The output is undefined until period valid
// inputs have been seen.
func emaOf(values []float64, defined []bool, period int) Series {
	s := newSeries(len(values))
	if period <= 0 {
		return s
	}
	multiplier := 2.0 / float64(period+1)

	seen := 0
	var seedSum float64
	var ema float64
	for i, v := range values {
		if defined != nil && !defined[i] {
			continue
		}
		seen++
		switch {
		case seen < period:
			seedSum += v
		case seen == period:
			seedSum += v
			ema = seedSum / float64(period)
			s.Values[i] = ema
			s.Defined[i] = true
		default:
			ema = (v-ema)*multiplier + ema
			s.Values[i] = ema
			s.Defined[i] = true
		}
	}
	return s
}

// RSI computes the Relative Strength Index using Wilder's smoothing method,
// scaled to [0,100]. Undefined until period+1 bars exist.
func RSI(bars []domain.Bar, period int) Series {
	s := newSeries(len(bars))
	if period <= 0 || len(bars) <= period {
		return s
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	s.Values[period] = rsiFrom(avgGain, avgLoss)
	s.Defined[period] = true

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - change) / float64(period)
		}
		s.Values[i] = rsiFrom(avgGain, avgLoss)
		s.Defined[i] = true
	}
	return s
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // Neutral if no change
		}
		return 100 // Max RSI if only gains
	}
	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi
}

// MACD computes the MACD line (fast EMA minus slow EMA) and its signal line
// (an EMA of the MACD line). The line is undefined until slow bars exist; the
// signal line additionally needs signalPeriod defined MACD values.
func MACD(bars []domain.Bar, fast, slow, signalPeriod int) (line, signal Series) {
	fastEMA := EMA(bars, fast)
	slowEMA := EMA(bars, slow)

	line = newSeries(len(bars))
	for i := range bars {
		f, okF := fastEMA.At(i)
		sl, okS := slowEMA.At(i)
		if okF && okS {
			line.Values[i] = f - sl
			line.Defined[i] = true
		}
	}
	signal = emaOf(line.Values, line.Defined, signalPeriod)
	return line, signal
}

// Bollinger computes the middle SMA, the upper/lower bands at stdDev standard
// deviations, and the bandwidth ((upper-lower)/middle, in percent). All four
// series share the same lookback as the middle SMA.
func Bollinger(bars []domain.Bar, period int, stdDev float64) (upper, middle, lower, bandwidth Series) {
	middle = SMA(bars, period)
	upper = newSeries(len(bars))
	lower = newSeries(len(bars))
	bandwidth = newSeries(len(bars))

	for i := range bars {
		mean, ok := middle.At(i)
		if !ok {
			continue
		}
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := bars[j].Close - mean
			variance += d * d
		}
		sigma := math.Sqrt(variance / float64(period))

		upper.Values[i] = mean + stdDev*sigma
		upper.Defined[i] = true
		lower.Values[i] = mean - stdDev*sigma
		lower.Defined[i] = true
		if mean != 0 {
			bandwidth.Values[i] = (upper.Values[i] - lower.Values[i]) / mean * 100
			bandwidth.Defined[i] = true
		}
	}
	return upper, middle, lower, bandwidth
}
