package executor

import "sort"

// EnvWrap prefixes command with an env(1) invocation applying env in
// sorted key order. With an empty env the command is returned unchanged,
// so simple commands do not pay for a wrapper process.
func EnvWrap(env map[string]string, command []string) []string {
	if len(env) == 0 {
		return command
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	wrapped := make([]string, 0, len(command)+len(env)+1)
	wrapped = append(wrapped, "env")
	for _, k := range keys {
		wrapped = append(wrapped, k+"="+env[k])
	}
	return append(wrapped, command...)
}
