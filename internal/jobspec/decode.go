package jobspec

import (
	"strconv"
	"strings"
	"time"

	"github.com/coredaemon/taskd/internal/contract"
	mapstructure "github.com/go-viper/mapstructure/v2"
)

// reservedVendorPrefix matches spec.md §3 invariant 1 / §6: labels may not
// start with the reserved vendor prefix.
const reservedVendorPrefix = "com.apple."

// rawSpec is the intermediate decode target: mapstructure handles the
// straightforward scalar/array/map fields; KeepAlive, StartCalendarInterval,
// Sockets, and MachServices have multiple accepted shapes (bool-or-dict,
// dict-or-array-of-dict) and are decoded by hand from the raw tree.
type rawSpec struct {
	Label                    string
	Program                  string
	ProgramArguments         []string
	RootDirectory            string
	WorkingDirectory         string
	UserName                 string
	GroupName                string
	StandardInPath           string
	StandardOutPath          string
	StandardErrorPath        string
	EnvironmentVariables     map[string]string
	UserEnvironmentVariables map[string]string
	OnDemand                 bool
	RunAtLoad                bool
	Debug                    bool
	SessionCreate            bool
	LowPriorityIO            bool
	InitGroups               bool
	EnableGlobbing           bool
	WaitForDebugger          bool
	ForcePowerPC             bool
	Nice                     int
	TimeOut                  int
	Umask                    int
	StartInterval            int
	SoftResourceLimits       map[string]any
	HardResourceLimits       map[string]any
	WatchPaths               []string
	QueueDirectories         []string
}

// Decode validates and converts tree (an already-parsed job description,
// per spec.md's non-goal on the on-disk parser) into a Spec. Unrecognized
// top-level keys produce Warnings rather than an error.
func Decode(tree map[string]any) (*Spec, []Warning, error) {
	warnings := unrecognizedKeys(tree)

	var raw rawSpec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, warnings, &contract.InvalidInputError{Reason: "decoder construction: " + err.Error()}
	}
	if err := dec.Decode(tree); err != nil {
		return nil, warnings, &contract.InvalidInputError{Reason: "decode: " + err.Error()}
	}

	if err := validateLabel(raw.Label); err != nil {
		return nil, warnings, err
	}

	spec := &Spec{
		Label:                    raw.Label,
		Program:                  raw.Program,
		ProgramArguments:         raw.ProgramArguments,
		RootDirectory:            raw.RootDirectory,
		WorkingDirectory:         raw.WorkingDirectory,
		UserName:                 raw.UserName,
		GroupName:                raw.GroupName,
		StandardInPath:           raw.StandardInPath,
		StandardOutPath:          raw.StandardOutPath,
		StandardErrorPath:        raw.StandardErrorPath,
		EnvironmentVariables:     raw.EnvironmentVariables,
		UserEnvironmentVariables: raw.UserEnvironmentVariables,
		Nice:                     raw.Nice,
		TimeOut:                  raw.TimeOut,
		Umask:                    raw.Umask,
		StartInterval:            time.Duration(raw.StartInterval) * time.Second,
		WatchPaths:               raw.WatchPaths,
		QueueDirectories:         raw.QueueDirectories,
		Flags: Flags{
			OnDemand:       raw.OnDemand,
			RunAtLoad:      raw.RunAtLoad,
			Debug:          raw.Debug,
			SessionCreate:  raw.SessionCreate,
			LowPriorityIO:  raw.LowPriorityIO,
			InitGroups:     raw.InitGroups,
			EnableGlobbing: raw.EnableGlobbing,
			WaitForDebugger: raw.WaitForDebugger,
			ForcePowerPC:    raw.ForcePowerPC,
		},
	}

	if spec.Program == "" && len(spec.ProgramArguments) > 0 {
		spec.Program = spec.ProgramArguments[0]
	}

	spec.SoftLimits = decodeLimits(raw.SoftResourceLimits, true)
	spec.HardLimits = decodeLimits(raw.HardResourceLimits, false)

	if v, ok := tree["KeepAlive"]; ok {
		preds, always, err := decodeKeepAlive(v)
		if err != nil {
			return nil, warnings, err
		}
		spec.Predicates = preds
		spec.Flags.KeepAliveAlways = always
	}

	if v, ok := tree["StartCalendarInterval"]; ok {
		cis, err := decodeCalendarIntervals(v)
		if err != nil {
			return nil, warnings, err
		}
		spec.CalendarIntervals = cis
	}

	if v, ok := tree["Sockets"]; ok {
		socks, err := decodeSockets(v)
		if err != nil {
			return nil, warnings, err
		}
		spec.Sockets = socks
	}

	if v, ok := tree["MachServices"]; ok {
		svcs, err := decodeMachServices(v)
		if err != nil {
			return nil, warnings, err
		}
		spec.MachServices = svcs
	}

	if v, ok := tree["inetdCompatibility"]; ok {
		if m, ok := v.(map[string]any); ok {
			spec.IsInetd = true
			if w, ok := m["Wait"]; ok {
				spec.InetdWait = truthy(w)
			}
		}
	}

	return spec, warnings, nil
}

func validateLabel(label string) error {
	if label == "" {
		return &contract.InvalidInputError{Reason: "label must not be empty"}
	}
	if strings.HasPrefix(label, reservedVendorPrefix) {
		return &contract.InvalidInputError{Reason: "label uses reserved vendor prefix"}
	}
	if _, err := strconv.ParseFloat(label, 64); err == nil {
		return &contract.InvalidInputError{Reason: "label must not parse as a number"}
	}
	return nil
}

func decodeLimits(m map[string]any, soft bool) []LimitItem {
	var out []LimitItem
	for name, v := range m {
		if _, ok := resourceLimitNames[name]; !ok {
			continue
		}
		item := LimitItem{Name: name, Soft: -1, Hard: -1}
		if soft {
			item.Soft = toInt64(v)
		} else {
			item.Hard = toInt64(v)
		}
		out = append(out, item)
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return -1
	}
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}

// decodeKeepAlive handles both the bool and dict forms of KeepAlive.
func decodeKeepAlive(v any) ([]Predicate, bool, error) {
	switch val := v.(type) {
	case bool:
		return nil, val, nil
	case map[string]any:
		var preds []Predicate
		if nv, ok := val["NetworkState"]; ok {
			if truthy(nv) {
				preds = append(preds, Predicate{Kind: PredicateNetworkUp})
			} else {
				preds = append(preds, Predicate{Kind: PredicateNetworkDown})
			}
		}
		if sv, ok := val["SuccessfulExit"]; ok {
			if truthy(sv) {
				preds = append(preds, Predicate{Kind: PredicateSuccessfulExit})
			} else {
				preds = append(preds, Predicate{Kind: PredicateFailedExit})
			}
		}
		if pv, ok := val["PathState"]; ok {
			pm, ok := pv.(map[string]any)
			if !ok {
				return nil, false, &contract.InvalidInputError{Reason: "PathState must be a dict"}
			}
			for path, want := range pm {
				if truthy(want) {
					preds = append(preds, Predicate{Kind: PredicatePathExists, Path: path})
				} else {
					preds = append(preds, Predicate{Kind: PredicatePathMissing, Path: path})
				}
			}
		}
		return preds, false, nil
	default:
		return nil, false, &contract.InvalidInputError{Reason: "KeepAlive must be bool or dict"}
	}
}

func decodeCalendarIntervals(v any) ([]CalendarField, error) {
	switch val := v.(type) {
	case map[string]any:
		cf, err := decodeOneCalendar(val)
		if err != nil {
			return nil, err
		}
		return []CalendarField{cf}, nil
	case []any:
		var out []CalendarField
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &contract.InvalidInputError{Reason: "StartCalendarInterval array entries must be dicts"}
			}
			cf, err := decodeOneCalendar(m)
			if err != nil {
				return nil, err
			}
			out = append(out, cf)
		}
		return out, nil
	default:
		return nil, &contract.InvalidInputError{Reason: "StartCalendarInterval must be a dict or array of dicts"}
	}
}

func decodeOneCalendar(m map[string]any) (CalendarField, error) {
	cf := CalendarField{Minute: -1, Hour: -1, Mday: -1, Weekday: -1, Month: -1}
	fields := map[string]*int{
		"Minute": &cf.Minute, "Hour": &cf.Hour, "Day": &cf.Mday,
		"Weekday": &cf.Weekday, "Month": &cf.Month,
	}
	for key, dst := range fields {
		if v, ok := m[key]; ok {
			*dst = int(toInt64(v))
		}
	}
	return cf, nil
}

func decodeSockets(v any) ([]SocketSpec, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &contract.InvalidInputError{Reason: "Sockets must be a dict of name -> descriptor(s)"}
	}
	var out []SocketSpec
	for name, raw := range m {
		spec := SocketSpec{Name: name}
		switch d := raw.(type) {
		case int:
			spec.Descriptors = []int{d}
		case float64:
			spec.Descriptors = []int{int(d)}
		case []any:
			for _, item := range d {
				spec.Descriptors = append(spec.Descriptors, int(toInt64(item)))
			}
		default:
			return nil, &contract.InvalidInputError{Reason: "socket entry for " + name + " must be a descriptor or array of descriptors"}
		}
		out = append(out, spec)
	}
	return out, nil
}

func decodeMachServices(v any) ([]MachServiceSpec, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &contract.InvalidInputError{Reason: "MachServices must be a dict of name -> bool|dict"}
	}
	var out []MachServiceSpec
	for name, raw := range m {
		spec := MachServiceSpec{Name: name}
		switch d := raw.(type) {
		case bool:
			// bare bool form: no special flags
		case map[string]any:
			if rv, ok := d["ResetAtClose"]; ok {
				spec.ResetAtClose = truthy(rv)
			}
			if hv, ok := d["HideUntilCheckIn"]; ok {
				spec.HideUntilCheckIn = truthy(hv)
			}
			if ev, ok := d["ExceptionServer"]; ok {
				spec.ExceptionServer = truthy(ev)
			}
			if kv, ok := d["kUNCServer"]; ok {
				spec.KUNCServer = truthy(kv)
			}
		default:
			return nil, &contract.InvalidInputError{Reason: "MachServices entry for " + name + " must be bool or dict"}
		}
		out = append(out, spec)
	}
	return out, nil
}
