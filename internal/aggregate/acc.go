package aggregate

// accumulator is the per-group state of one reducer. Add folds a present
// cell in; combine merges another accumulator of the same kind; result
// produces the output cell. Add and combine must be associative and
// commutative so partials merge in any order.
type accumulator interface {
	add(v any)
	combine(other accumulator)
	result() any
}

// countAcc counts group rows, missing cells included.
type countAcc struct{ n int64 }

func (a *countAcc) add(any)               { a.n++ }
func (a *countAcc) combine(o accumulator) { a.n += o.(*countAcc).n }
func (a *countAcc) result() any           { return a.n }

// intSumAcc sums int64 cells exactly.
type intSumAcc struct {
	sum int64
	n   int64
}

func (a *intSumAcc) add(v any) {
	if n, ok := v.(int64); ok {
		a.sum += n
		a.n++
	}
}
func (a *intSumAcc) combine(o accumulator) {
	b := o.(*intSumAcc)
	a.sum += b.sum
	a.n += b.n
}
func (a *intSumAcc) result() any {
	if a.n == 0 {
		return nil
	}
	return a.sum
}

// floatSumAcc sums float cells; int64 cells are widened.
type floatSumAcc struct {
	sum float64
	n   int64
}

func (a *floatSumAcc) add(v any) {
	if f, ok := toFloat(v); ok {
		a.sum += f
		a.n++
	}
}
func (a *floatSumAcc) combine(o accumulator) {
	b := o.(*floatSumAcc)
	a.sum += b.sum
	a.n += b.n
}
func (a *floatSumAcc) result() any {
	if a.n == 0 {
		return nil
	}
	return a.sum
}

// meanAcc carries sum and count separately so partial means merge exactly.
type meanAcc struct {
	sum float64
	n   int64
}

func (a *meanAcc) add(v any) {
	if f, ok := toFloat(v); ok {
		a.sum += f
		a.n++
	}
}
func (a *meanAcc) combine(o accumulator) {
	b := o.(*meanAcc)
	a.sum += b.sum
	a.n += b.n
}
func (a *meanAcc) result() any {
	if a.n == 0 {
		return nil
	}
	return a.sum / float64(a.n)
}

// minMaxAcc tracks an extremum over int or float cells, preserving the
// column's numeric type in the result.
type minMaxAcc struct {
	max     bool
	seen    bool
	isFloat bool
	i       int64
	f       float64
}

func (a *minMaxAcc) add(v any) {
	switch t := v.(type) {
	case int64:
		if a.isFloat {
			a.addFloat(float64(t))
			return
		}
		if !a.seen || (a.max && t > a.i) || (!a.max && t < a.i) {
			a.i = t
		}
		a.seen = true
	case float64:
		if a.seen && !a.isFloat {
			a.isFloat = true
			a.f = float64(a.i)
		}
		a.isFloat = true
		a.addFloat(t)
	}
}

func (a *minMaxAcc) addFloat(f float64) {
	if !a.seen || (a.max && f > a.f) || (!a.max && f < a.f) {
		a.f = f
	}
	a.seen = true
}

func (a *minMaxAcc) combine(o accumulator) {
	b := o.(*minMaxAcc)
	if !b.seen {
		return
	}
	if b.isFloat {
		a.add(b.f)
	} else {
		a.add(b.i)
	}
}

func (a *minMaxAcc) result() any {
	if !a.seen {
		return nil
	}
	if a.isFloat {
		return a.f
	}
	return a.i
}

// customAcc adapts a CustomReducer to the accumulator interface.
type customAcc struct {
	r   CustomReducer
	acc any
}

func (a *customAcc) add(v any)             { a.acc = a.r.Add(a.acc, v) }
func (a *customAcc) combine(o accumulator) { a.acc = a.r.Combine(a.acc, o.(*customAcc).acc) }
func (a *customAcc) result() any           { return a.r.Result(a.acc) }

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	}
	return 0, false
}
