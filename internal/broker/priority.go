// Package broker layers priority-tiered queues over an AMQP 0-9-1 broker.
// It owns the channel pool, queue-name derivation, payload codecs, the
// publisher, and the lottery-scheduled puller.
package broker

import (
	"fmt"
	"strings"
)

// Priority is the urgency tier attached to a unit of queued work.
type Priority int

// Priority tiers in ascending urgency.
const (
	OnlyWhenIdle Priority = iota
	Low
	Normal
	High
	RealTime
)

var priorityNames = [...]string{
	OnlyWhenIdle: "OnlyWhenIdle",
	Low:          "Low",
	Normal:       "Normal",
	High:         "High",
	RealTime:     "RealTime",
}

// Priorities returns every tier in ascending order.
func Priorities() []Priority {
	return []Priority{OnlyWhenIdle, Low, Normal, High, RealTime}
}

// String returns the tier name used in physical queue names.
func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the defined tiers.
func (p Priority) Valid() bool {
	return p >= OnlyWhenIdle && p <= RealTime
}

// Weight is the tier's share of the selection lottery.
func (p Priority) Weight() int {
	if !p.Valid() {
		return 0
	}
	return int(p) + 1
}

// ParsePriority resolves a tier name, ignoring case.
func ParsePriority(name string) (Priority, error) {
	for _, p := range Priorities() {
		if strings.EqualFold(strings.TrimSpace(name), p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// QueueName derives the physical queue for a base name and tier,
// e.g. "IndexingQueue-High".
func QueueName(base string, tier Priority) string {
	return base + "-" + tier.String()
}
