package device

import (
	"gnss-bridge/internal/metrics"
	"gnss-bridge/internal/model"
)

// gsvSet is a GSV sequence being collected for one talker.
type gsvSet struct {
	total int
	next  int
	sats  []model.SatInfo
}

// satelliteState assembles satellite lists. Each talker's view is replaced
// wholesale when its GSV sequence completes; used-in-fix flags come from the
// GSA sentences of the current epoch.
type satelliteState struct {
	pending   map[string]*gsvSet
	groups    map[string][]model.SatInfo
	used      map[model.SatIdentifier]bool
	usedStale bool
	published model.SatelliteList
}

func (s *satelliteState) reset() {
	s.pending = map[string]*gsvSet{}
	s.groups = map[string][]model.SatInfo{}
	s.used = map[model.SatIdentifier]bool{}
	s.usedStale = false
	s.published = model.SatelliteList{}
}

// closeEpoch makes the next GSA start a fresh used-in-fix set.
func (s *satelliteState) closeEpoch() {
	s.usedStale = true
}

func (s *satelliteState) markUsed(ids []model.SatIdentifier) {
	if s.usedStale {
		s.used = map[model.SatIdentifier]bool{}
		s.usedStale = false
	}
	for _, id := range ids {
		s.used[id] = true
	}
}

// addView records one GSV message. It returns the merged list when the
// talker's sequence completes.
func (s *satelliteState) addView(talker string, part, total int, sats []model.SatInfo) (model.SatelliteList, bool) {
	if total <= 0 || part <= 0 || part > total {
		return nil, false
	}
	set := s.pending[talker]
	if part == 1 {
		set = &gsvSet{total: total, next: 1}
		s.pending[talker] = set
	}
	if set == nil || set.total != total || set.next != part {
		// Out of sequence; wait for the next message 1.
		delete(s.pending, talker)
		return nil, false
	}
	set.sats = append(set.sats, sats...)
	set.next++
	if part < total {
		return nil, false
	}

	delete(s.pending, talker)
	s.groups[talker] = set.sats
	s.published = s.merge()
	return s.published.Clone(), true
}

func (s *satelliteState) merge() model.SatelliteList {
	out := model.SatelliteList{}
	for _, group := range s.groups {
		for _, sat := range group {
			sat.UsedInFix = s.used[sat.ID]
			out[sat.ID] = sat
		}
	}
	return out
}

func observeSatellites(list model.SatelliteList) {
	metrics.ObserveSatellites(len(list), list.UsedCount())
}
