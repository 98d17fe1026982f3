package expr

// Range is the closed interval of non-null values observed for a column.
// Min and Max are time.Time for timestamp columns and float64 otherwise.
type Range struct {
	Min interface{}
	Max interface{}
}

// StatsFunc looks up the value range of a column. The boolean is false when
// no statistics are available.
type StatsFunc func(field string) (Range, bool)

// MayMatch reports whether some value in the column range can satisfy the comparison
func (c *Comparison) MayMatch(stats StatsFunc) bool {
	if stats == nil {
		return true
	}
	r, ok := stats(c.Field.Name)
	if !ok {
		return true
	}
	lit := c.Value.Value

	cmpMin, okMin := compareValues(r.Min, lit)
	cmpMax, okMax := compareValues(r.Max, lit)
	if !okMin || !okMax {
		return true
	}

	switch c.Op {
	case OpEqual:
		return cmpMin <= 0 && cmpMax >= 0
	case OpLess:
		return cmpMin < 0
	case OpGreater:
		return cmpMax > 0
	case OpLessEqual:
		return cmpMin <= 0
	case OpGreaterEqual:
		return cmpMax >= 0
	default:
		return true
	}
}

// MayMatch reports whether every operand may match
func (a *Conjunction) MayMatch(stats StatsFunc) bool {
	for _, op := range a.Operands {
		if !op.MayMatch(stats) {
			return false
		}
	}
	return true
}
