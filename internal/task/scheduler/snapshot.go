package scheduler

import (
	"sort"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Started:  s.sup != nil,
		Stopped:  s.stopped,
		Timezone: s.cfg.Timezone,
		Jobs:     make([]JobInfo, 0, len(s.jobs)),
	}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for id, j := range s.jobs {
		snap.Jobs = append(snap.Jobs, JobInfo{
			ID:        id,
			Spec:      j.spec,
			Start:     j.start,
			Interval:  j.interval,
			AddedAt:   j.addedAt,
			Instances: j.t.Instances(),
			Next:      j.t.Next(),
		})
	}
	disp := s.disp
	sup := s.sup
	s.mu.Unlock()

	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].ID < snap.Jobs[j].ID })
	snap.QueueLen = s.q.Len()
	if disp != nil {
		snap.Dispatcher = disp.Stats()
	}
	snap.Supervisor = sup.Snapshot()
	return snap
}
