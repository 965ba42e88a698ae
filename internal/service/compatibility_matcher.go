package service

import (
	"fmt"
	"sort"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// MatchResult holds candidate groups and the 1-on-1 pool.
type MatchResult struct {
	Groups     []models.StudentGroup `json:"groups"`
	Individual []models.StudentGroup `json:"individual"`
}

// All returns groups followed by individual candidates.
func (r MatchResult) All() []models.StudentGroup {
	all := make([]models.StudentGroup, 0, len(r.Groups)+len(r.Individual))
	all = append(all, r.Groups...)
	return append(all, r.Individual...)
}

// CompatibilityMatcher groups students with compatible content heads and pace.
type CompatibilityMatcher struct{}

// NewCompatibilityMatcher constructs a CompatibilityMatcher.
func NewCompatibilityMatcher() *CompatibilityMatcher {
	return &CompatibilityMatcher{}
}

type matchBucket struct {
	key        string
	head       models.ContentItem
	onboarding bool
	profiles   []models.StudentProfile
}

type forming struct {
	profiles []models.StudentProfile
}

func (f *forming) pace() models.Pace {
	if len(f.profiles) == 0 {
		return ""
	}
	total := 0
	for _, p := range f.profiles {
		total += p.Student.Pace.Rank()
	}
	return models.PaceFromRank(float64(total) / float64(len(f.profiles)))
}

// Match partitions profiles of one course type into groups within bounds.
// Students that cannot reach bounds.Min are moved to the individual pool.
func (m *CompatibilityMatcher) Match(courseType string, profiles []models.StudentProfile, bounds models.ClassBounds) MatchResult {
	if bounds.Min < 1 {
		bounds.Min = 1
	}
	if bounds.Max < bounds.Min {
		bounds.Max = bounds.Min
	}

	buckets := make(map[string]*matchBucket)
	for _, profile := range profiles {
		key := profile.Head.Content.ID
		if profile.Onboarding {
			key = models.OnboardingKey
		}
		bucket, ok := buckets[key]
		if !ok {
			bucket = &matchBucket{key: key, head: profile.Head.Content, onboarding: profile.Onboarding}
			buckets[key] = bucket
		}
		bucket.profiles = append(bucket.profiles, profile)
	}

	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := MatchResult{}
	for _, key := range keys {
		bucket := buckets[key]
		groups, leftovers := m.partition(bucket.profiles, bounds)
		for idx, members := range groups {
			result.Groups = append(result.Groups, buildGroup(fmt.Sprintf("%s:%s:%d", courseType, key, idx+1), courseType, bucket, members))
		}
		for _, profile := range leftovers {
			group := buildGroup(fmt.Sprintf("%s:%s:solo:%s", courseType, key, profile.Student.ID), courseType, bucket, []models.StudentProfile{profile})
			group.ClassType = models.ClassTypeIndividual
			result.Individual = append(result.Individual, group)
		}
	}

	sort.SliceStable(result.Individual, func(i, j int) bool {
		return result.Individual[i].ID < result.Individual[j].ID
	})
	return result
}

func (m *CompatibilityMatcher) partition(profiles []models.StudentProfile, bounds models.ClassBounds) ([][]models.StudentProfile, []models.StudentProfile) {
	members := append([]models.StudentProfile(nil), profiles...)
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Student.Pace.Rank() != members[j].Student.Pace.Rank() {
			return members[i].Student.Pace.Rank() > members[j].Student.Pace.Rank()
		}
		return members[i].Student.ID < members[j].Student.ID
	})

	n := len(members)
	if n < bounds.Min {
		return nil, members
	}

	k := (n + bounds.Max - 1) / bounds.Max
	for k > 1 && n/k < bounds.Min {
		k--
	}

	groups := make([]*forming, k)
	for i := range groups {
		groups[i] = &forming{}
	}

	var leftovers []models.StudentProfile
	for _, profile := range members {
		target := pickGroup(groups, profile.Student.Pace, bounds.Max)
		if target < 0 {
			leftovers = append(leftovers, profile)
			continue
		}
		groups[target].profiles = append(groups[target].profiles, profile)
	}

	rebalance(groups, bounds.Min)

	var out [][]models.StudentProfile
	for _, g := range groups {
		if len(g.profiles) == 0 {
			continue
		}
		if len(g.profiles) < bounds.Min {
			leftovers = append(leftovers, g.profiles...)
			continue
		}
		out = append(out, g.profiles)
	}
	return out, leftovers
}

// pickGroup prefers a group whose average pace matches, then the smaller group, then
// the lower index. An empty group ranks between a match and a mismatch.
func pickGroup(groups []*forming, pace models.Pace, max int) int {
	best := -1
	bestAffinity := -1
	for i, g := range groups {
		if len(g.profiles) >= max {
			continue
		}
		affinity := 0
		switch {
		case len(g.profiles) == 0:
			affinity = 1
		case g.pace() == pace:
			affinity = 2
		}
		if best < 0 || affinity > bestAffinity || (affinity == bestAffinity && len(g.profiles) < len(groups[best].profiles)) {
			best = i
			bestAffinity = affinity
		}
	}
	return best
}

// rebalance tops up under-filled groups from groups holding more than min.
func rebalance(groups []*forming, min int) {
	for _, needy := range groups {
		for len(needy.profiles) > 0 && len(needy.profiles) < min {
			donor := -1
			for i, g := range groups {
				if g == needy || len(g.profiles) <= min {
					continue
				}
				if donor < 0 || len(g.profiles) > len(groups[donor].profiles) {
					donor = i
				}
			}
			if donor < 0 {
				break
			}
			source := groups[donor]
			moved := source.profiles[len(source.profiles)-1]
			source.profiles = source.profiles[:len(source.profiles)-1]
			needy.profiles = append(needy.profiles, moved)
		}
	}
}

func buildGroup(id, courseType string, bucket *matchBucket, members []models.StudentProfile) models.StudentGroup {
	group := models.StudentGroup{
		ID:         id,
		CourseType: courseType,
		Key:        bucket.key,
		Head:       bucket.head,
		Onboarding: bucket.onboarding,
		Urgency:    models.UrgencyLow,
		ClassType:  models.ClassTypeGroup,
	}
	paceTotal := 0
	for _, member := range members {
		group.StudentIDs = append(group.StudentIDs, member.Student.ID)
		if member.Head.Urgency.Level() > group.Urgency.Level() {
			group.Urgency = member.Head.Urgency
		}
		paceTotal += member.Student.Pace.Rank()
	}
	sort.Strings(group.StudentIDs)
	if len(members) > 0 {
		group.Pace = models.PaceFromRank(float64(paceTotal) / float64(len(members)))
	}
	if len(members) == 1 {
		group.ClassType = models.ClassTypeIndividual
	}
	return group
}
