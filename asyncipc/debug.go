// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package asyncipc

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// fDebug mirrors the teacher's `fuse.debug` flag (debug.go): off by
// default, flip it to get a line per dispatched call and routed message.
var fDebug = flag.Bool(
	"asyncipc.debug",
	false,
	"Enable debug logging output for the async IPC manager.")

var gLogger *log.Logger
var gLoggerOnce sync.Once

func initLogger() {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	var writer io.Writer = io.Discard
	if *fDebug {
		writer = os.Stderr
	}
	gLogger = log.New(writer, "asyncipc: ", flags)
}

// getLogger returns the package-wide debug logger, initializing it (and
// reading -asyncipc.debug) the first time it's needed, exactly as the
// teacher's getLogger does for `fuse.debug`.
func getLogger() *log.Logger {
	gLoggerOnce.Do(initLogger)
	return gLogger
}

// debugLog writes a debug line for a particular manager instance, tagged
// with its name so a process running several managers can tell them
// apart in the log.
func (m *Manager) debugLog(format string, v ...any) {
	getLogger().Output(2, fmt.Sprintf("[%s] "+format, append([]any{m.name}, v...)...))
}
