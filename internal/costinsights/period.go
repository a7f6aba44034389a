package costinsights

// Period gathers every derived value for one duration selection.
type Period struct {
	Duration           Duration   `json:"duration"`
	CustomDateRange    *DateRange `json:"customDateRange,omitempty"`
	ComparisonMode     bool       `json:"comparisonMode"`
	InclusiveStartDate string     `json:"inclusiveStartDate"`
	InclusiveEndDate   string     `json:"inclusiveEndDate"`
	ExclusiveEndDate   string     `json:"exclusiveEndDate"`
	Intervals          string     `json:"intervals"`
	StartLabel         string     `json:"startLabel"`
	EndLabel           string     `json:"endLabel"`
}

// Describe computes a Period with the default two repeating intervals.
func Describe(d Duration, inclusiveEndDate string, r *DateRange, comparisonMode bool) (Period, error) {
	p := Period{Duration: d, CustomDateRange: r, ComparisonMode: comparisonMode}
	var err error
	if p.InclusiveStartDate, err = InclusiveStartDateOf(d, inclusiveEndDate, r, comparisonMode); err != nil {
		return Period{}, err
	}
	if p.ExclusiveEndDate, err = ExclusiveEndDateOf(d, inclusiveEndDate, r); err != nil {
		return Period{}, err
	}
	if p.InclusiveEndDate, err = InclusiveEndDateOf(d, inclusiveEndDate, r); err != nil {
		return Period{}, err
	}
	if p.Intervals, err = IntervalsOf(d, inclusiveEndDate, 2, r, comparisonMode); err != nil {
		return Period{}, err
	}
	if p.StartLabel, err = FormatPeriod(d, inclusiveEndDate, false, r, comparisonMode); err != nil {
		return Period{}, err
	}
	if p.EndLabel, err = FormatPeriod(d, inclusiveEndDate, true, r, comparisonMode); err != nil {
		return Period{}, err
	}
	return p, nil
}
