package docker

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/subosito/gotenv"
)

// bareName matches a line holding only a variable name. Like
// `docker run --env-file`, such a name takes its value from the host.
var bareName = regexp.MustCompile(`^(?:export\s+)?([A-Za-z_][A-Za-z0-9_.]*)$`)

// ReadEnvFile loads KEY=VALUE pairs from path for injection into the
// container environment. A bare NAME line is filled from the current
// process environment and skipped when the name is unset there.
func ReadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEnvFile, path, err)
	}
	defer f.Close()

	inherited := map[string]string{}
	var assignments strings.Builder

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := bareName.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if v, ok := os.LookupEnv(m[1]); ok {
				inherited[m[1]] = v
			}
			continue
		}
		assignments.WriteString(line)
		assignments.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEnvFile, path, err)
	}

	env, err := gotenv.StrictParse(strings.NewReader(assignments.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEnvFile, path, err)
	}
	for k, v := range inherited {
		if _, ok := env[k]; !ok {
			env[k] = v
		}
	}
	return env, nil
}
