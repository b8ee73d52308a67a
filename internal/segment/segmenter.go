// Package segment groups timestamped transcript fragments into meetings
// using gap-duration and foreground-app heuristics. Meetings are derived
// on every read, never stored, so the grouping logic can change without a
// migration.
package segment

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/earmark/internal/transcript"
)

// Default split thresholds.
const (
	DefaultSoftGap = 5 * time.Minute
	DefaultHardGap = 30 * time.Minute
)

// meetingNamespace seeds deterministic meeting IDs so recomputation over
// the same fragments yields identical meetings.
var meetingNamespace = uuid.MustParse("c6b4d0ac-6c90-4f10-a77b-6b31f3c84a21")

// Meeting is a derived grouping of fragments believed to belong to one
// continuous conversation or activity.
type Meeting struct {
	ID        uuid.UUID             `json:"id"`
	Fragments []transcript.Fragment `json:"fragments"`
	Category  Category              `json:"category"`
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time"`
}

// Config carries the split thresholds.
type Config struct {
	// SoftGap splits only when the foreground app also changed.
	SoftGap time.Duration
	// HardGap always splits.
	HardGap time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{SoftGap: DefaultSoftGap, HardGap: DefaultHardGap}
}

// Segmenter partitions fragment lists into meetings.
type Segmenter struct {
	cfg Config
}

// New creates a segmenter. Non-positive thresholds fall back to defaults.
func New(cfg Config) *Segmenter {
	if cfg.SoftGap <= 0 {
		cfg.SoftGap = DefaultSoftGap
	}
	if cfg.HardGap <= 0 {
		cfg.HardGap = DefaultHardGap
	}
	return &Segmenter{cfg: cfg}
}

// Segment partitions fragments into meetings, newest meeting first. It is
// pure: the same input always yields the same output, IDs included, and
// it never fails. Unsorted input is sorted rather than rejected, since
// fragments land out of order when transcriptions finish out of order.
func (s *Segmenter) Segment(fragments []transcript.Fragment) []Meeting {
	if len(fragments) == 0 {
		return nil
	}

	sorted := make([]transcript.Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var groups [][]transcript.Fragment
	group := []transcript.Fragment{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if s.splits(sorted[i-1], sorted[i]) {
			groups = append(groups, group)
			group = nil
		}
		group = append(group, sorted[i])
	}
	groups = append(groups, group)

	meetings := make([]Meeting, 0, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		meetings = append(meetings, buildMeeting(groups[i]))
	}
	return meetings
}

// splits reports whether a new meeting starts between prev and next. Gaps
// above the hard threshold always split. Gaps in the soft band split only
// when the foreground app differs, where a missing app on either side
// counts as a difference. Anything at or under the soft threshold never
// splits, equal timestamps included.
func (s *Segmenter) splits(prev, next transcript.Fragment) bool {
	gap := next.Timestamp.Sub(prev.Timestamp)
	if gap > s.cfg.HardGap {
		return true
	}
	if gap > s.cfg.SoftGap {
		return appChanged(prev.SourceApp, next.SourceApp)
	}
	return false
}

func appChanged(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return a != b
}

func buildMeeting(group []transcript.Fragment) Meeting {
	first := group[0]
	last := group[len(group)-1]
	return Meeting{
		ID:        meetingID(first),
		Fragments: group,
		Category:  Classify(dominantApp(group)),
		StartTime: first.Timestamp,
		EndTime:   last.Timestamp.Add(time.Duration(last.DurationSeconds) * time.Second),
	}
}

// meetingID derives a stable ID from the group's first fragment.
func meetingID(first transcript.Fragment) uuid.UUID {
	return uuid.NewSHA1(meetingNamespace, first.ID[:])
}

// dominantApp returns the most frequent non-empty SourceApp in the
// group. Ties resolve to the app observed earliest so segmentation stays
// deterministic.
func dominantApp(group []transcript.Fragment) string {
	counts := make(map[string]int)
	max := 0
	for _, f := range group {
		if f.SourceApp == "" {
			continue
		}
		counts[f.SourceApp]++
		if counts[f.SourceApp] > max {
			max = counts[f.SourceApp]
		}
	}
	if max == 0 {
		return ""
	}
	for _, f := range group {
		if counts[f.SourceApp] == max {
			return f.SourceApp
		}
	}
	return ""
}
