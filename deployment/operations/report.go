package operations

import "sync"

// Report is the record of one executed operation.
type Report struct {
	Def    Definition
	Input  any
	Output any
	Err    error
}

// Reporter collects reports in execution order.
type Reporter struct {
	mu      sync.Mutex
	reports []Report
}

func NewReporter() *Reporter {
	return &Reporter{}
}

func (r *Reporter) record(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *Reporter) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// IDs lists the ids of the executed operations, in order.
func (r *Reporter) IDs() []string {
	reports := r.Reports()
	ids := make([]string, 0, len(reports))
	for _, rep := range reports {
		ids = append(ids, rep.Def.ID)
	}
	return ids
}
