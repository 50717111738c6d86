//go:build unix

package execpipeline

import "testing"

func TestMergeEnvLayerPrecedence(t *testing.T) {
	world := []string{"PATH=/usr/bin", "HOME=/root"}
	peer := map[string]string{"HOME": "/peer-home", "PEER_VAR": "1"}
	job := map[string]string{"PEER_VAR": "2", "JOB_VAR": "a"}
	user := map[string]string{"JOB_VAR": "b"}

	got := toMap(mergeEnv(world, peer, job, user))

	cases := map[string]string{
		"PATH":     "/usr/bin", // untouched world value
		"HOME":     "/peer-home", // peer overrides world
		"PEER_VAR": "2",          // job overrides peer
		"JOB_VAR":  "b",          // user overrides job
	}
	for k, want := range cases {
		if got[k] != want {
			t.Errorf("env[%s] = %q, want %q", k, got[k], want)
		}
	}
}

func toMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
