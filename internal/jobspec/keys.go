package jobspec

// recognizedKeys is the enum of keys taskd understands in a submission
// tree, per spec.md §6. Anything else is logged as a warning and ignored,
// rather than rejected outright.
var recognizedKeys = map[string]struct{}{
	"Label":                 {},
	"Program":                {},
	"ProgramArguments":       {},
	"RootDirectory":          {},
	"WorkingDirectory":       {},
	"UserName":               {},
	"GroupName":              {},
	"StandardInPath":         {},
	"StandardOutPath":        {},
	"StandardErrorPath":      {},
	"EnvironmentVariables":   {},
	"UserEnvironmentVariables": {},
	"KeepAlive":              {},
	"OnDemand":               {},
	"RunAtLoad":              {},
	"Debug":                  {},
	"SessionCreate":          {},
	"LowPriorityIO":          {},
	"InitGroups":             {},
	"EnableGlobbing":         {},
	"WaitForDebugger":        {},
	"ForcePowerPC":           {},
	"Nice":                   {},
	"TimeOut":                {},
	"Umask":                  {},
	"StartInterval":          {},
	"SoftResourceLimits":     {},
	"HardResourceLimits":     {},
	"StartCalendarInterval":  {},
	"WatchPaths":             {},
	"QueueDirectories":       {},
	"Sockets":                {},
	"MachServices":           {},
	"inetdCompatibility":     {},
}

// Warning describes an unrecognized key encountered while decoding a
// submission tree.
type Warning struct {
	Key string
}

func (w Warning) String() string { return "unrecognized key: " + w.Key }

// unrecognizedKeys scans tree's top level for keys outside recognizedKeys.
func unrecognizedKeys(tree map[string]any) []Warning {
	var warnings []Warning
	for k := range tree {
		if _, ok := recognizedKeys[k]; !ok {
			warnings = append(warnings, Warning{Key: k})
		}
	}
	return warnings
}

// resourceLimitNames is the fixed table of resource-limit keys accepted in
// SoftResourceLimits/HardResourceLimits.
var resourceLimitNames = map[string]struct{}{
	"CPU": {}, "FileSize": {}, "Data": {}, "StackSize": {}, "Core": {},
	"ResidentSetSize": {}, "NumberOfFiles": {}, "AddressSpace": {}, "NumberOfProcesses": {},
	"MemoryLock": {}, "MsgQueue": {}, "NumFiles": {}, "Stack": {},
}
