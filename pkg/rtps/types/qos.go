package types

import "fmt"

type ReliabilityKind int

const (
	BestEffort ReliabilityKind = 1
	Reliable   ReliabilityKind = 2
)

func (r ReliabilityKind) String() string {
	switch r {
	case BestEffort:
		return "best-effort"
	case Reliable:
		return "reliable"
	}
	return fmt.Sprintf("reliability(%d)", int(r))
}

// Parses the textual representation used by configuration files.
func ParseReliabilityKind(value string) (ReliabilityKind, error) {
	switch value {
	case "best-effort", "best_effort":
		return BestEffort, nil
	case "reliable", "":
		return Reliable, nil
	}
	return 0, fmt.Errorf("%w: unknown reliability %q", ErrInvalidConfiguration, value)
}

type DurabilityKind int

const (
	Volatile DurabilityKind = iota
	TransientLocal
)

// QoS of a matched reader consumed by the writer.
type ReaderQos struct {
	Reliability ReliabilityKind
	Durability  DurabilityKind
}
