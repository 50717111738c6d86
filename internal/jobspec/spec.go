// Package jobspec decodes and validates the language-neutral job
// submission tree (spec.md §6) into typed Go values. The on-disk job-file
// parser that produces the tree is a non-goal; jobspec only consumes its
// output shape, map[string]any.
package jobspec

import "time"

// Flags mirrors the boolean flag set on a Job (spec.md §3).
type Flags struct {
	OnDemand        bool
	RunAtLoad       bool
	KeepAliveAlways bool // KeepAlive: true (continuous, non-predicate form)
	LowPriorityIO   bool
	InitGroups      bool
	SessionCreate   bool
	WaitForDebugger bool
	UnloadAtExit    bool
	LegacyMachJob   bool
	FirstBorn       bool
	StallBeforeExec bool
	Debug           bool
	EnableGlobbing  bool
	ForcePowerPC    bool
}

// LimitItem is one resource-limit entry: resource name plus soft/hard
// values (-1 meaning "unset", matching RLIM_INFINITY-style absence).
type LimitItem struct {
	Name string
	Soft int64
	Hard int64
}

// CalendarField is a partial cron-like descriptor; -1 means "any value".
type CalendarField struct {
	Minute, Hour, Mday, Weekday, Month int
}

// PredicateKind enumerates the KeepAlivePredicate variants.
type PredicateKind int

const (
	PredicateNetworkUp PredicateKind = iota
	PredicateNetworkDown
	PredicateSuccessfulExit
	PredicateFailedExit
	PredicatePathExists
	PredicatePathMissing
	PredicateQueuedMessagesOn
)

// Predicate is one KeepAlivePredicate.
type Predicate struct {
	Kind    PredicateKind
	Path    string // for PredicatePathExists / PredicatePathMissing
	Service string // for PredicateQueuedMessagesOn
}

// SocketSpec is one entry under Sockets: a named group of already-open
// descriptors.
type SocketSpec struct {
	Name          string
	Descriptors   []int
	InetdStyle    bool
	InetdWait     bool
}

// MachServiceSpec is one entry under MachServices.
type MachServiceSpec struct {
	Name             string
	ResetAtClose     bool
	HideUntilCheckIn bool
	ExceptionServer  bool
	KUNCServer       bool
}

// Spec is the fully decoded, validated job submission.
type Spec struct {
	Label             string
	Program           string
	ProgramArguments  []string
	RootDirectory     string
	WorkingDirectory  string
	UserName          string
	GroupName         string
	StandardInPath    string
	StandardOutPath   string
	StandardErrorPath string

	EnvironmentVariables     map[string]string
	UserEnvironmentVariables map[string]string

	Flags Flags

	Nice          int
	TimeOut       int
	Umask         int
	StartInterval time.Duration

	SoftLimits []LimitItem
	HardLimits []LimitItem

	CalendarIntervals []CalendarField

	WatchPaths       []string
	QueueDirectories []string

	Sockets      []SocketSpec
	MachServices []MachServiceSpec

	Predicates []Predicate

	InetdWait bool // top-level inetdCompatibility.Wait
	IsInetd   bool
}

// EffectiveOnDemand resolves the Open Question in spec.md §9: when both
// OnDemand and a KeepAlive predicate dict are present, KeepAlive dominates
// — the job is not treated as purely on-demand for arming purposes if any
// predicate (including the plain "continuous" form) is set.
func (s *Spec) EffectiveOnDemand() bool {
	if s.Flags.KeepAliveAlways {
		return false
	}
	if len(s.Predicates) > 0 {
		return false
	}
	return s.Flags.OnDemand
}

// ServiceOnly reports whether this job has no program to exec at all and
// exists solely to own MachServices (the legacy broker-entry path, Open
// Question 2: permitted).
func (s *Spec) ServiceOnly() bool {
	return s.Program == "" && len(s.ProgramArguments) == 0
}
