// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"sort"
	"strings"
)

// Variables the launcher manages itself.
const (
	mainPidVariable = "MAINPID"
	pwdVariable     = "PWD"
)

// environmentMap parses NAME=value entries. Entries without "=" are
// dropped; a later duplicate wins.
func environmentMap(environ []string) map[string]string {
	environment := make(map[string]string, len(environ))
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			continue
		}
		environment[name] = value
	}
	return environment
}

// environmentRequest is the per-launch input to composeEnvironment.
type environmentRequest struct {
	clear bool
	set   map[string]string
	unset []string
	cwd   string
}

// composeEnvironment builds a child environment: the startup snapshot
// (or nothing, when clearing), MAINPID tracking the wrapped command,
// then the request's additions and removals, then PWD. PWD always
// reflects the child's working directory and cannot be set or unset by
// the request.
func (s *Server) composeEnvironment(request environmentRequest) []string {
	environment := make(map[string]string)
	if !request.clear {
		for name, value := range s.environment {
			environment[name] = value
		}
	}

	if s.main.present {
		environment[mainPidVariable] = s.main.pidString
	} else {
		delete(environment, mainPidVariable)
	}

	for name, value := range request.set {
		if name == pwdVariable {
			continue
		}
		environment[name] = value
	}
	for _, name := range request.unset {
		if name == pwdVariable {
			continue
		}
		delete(environment, name)
	}

	if request.cwd != "" {
		environment[pwdVariable] = request.cwd
	} else {
		environment[pwdVariable] = s.workingDirectory
	}

	result := make([]string, 0, len(environment))
	for name, value := range environment {
		result = append(result, name+"="+value)
	}
	sort.Strings(result)
	return result
}
