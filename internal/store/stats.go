package store

// Stats summarizes the template population.
type Stats struct {
	Employees      int            `json:"employees"`
	TotalTemplates int            `json:"total_templates"`
	Primary        int            `json:"primary_templates"`
	Secondary      int            `json:"secondary_templates"`
	BySource       map[Source]int `json:"by_source"`
	ByTemplateCnt  map[int]int    `json:"employees_by_template_count"`
}

// Stats computes population statistics over the in-memory state.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	entries := make([]*employeeSlots, 0, len(s.employees))
	for _, e := range s.employees {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	stats := Stats{
		BySource:      make(map[Source]int),
		ByTemplateCnt: make(map[int]int),
	}
	for _, e := range entries {
		count := 0
		e.mu.Lock()
		for _, t := range e.slots {
			if t == nil {
				continue
			}
			count++
			stats.TotalTemplates++
			stats.BySource[t.CreatedFrom]++
			if t.IsPrimary() {
				stats.Primary++
			} else {
				stats.Secondary++
			}
		}
		e.mu.Unlock()
		if count > 0 {
			stats.Employees++
			stats.ByTemplateCnt[count]++
		}
	}
	return stats
}
