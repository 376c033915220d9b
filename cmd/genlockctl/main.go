// Copyright 2026 The Genlock Authors.
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

// Binary genlockctl exercises the lock engine from the command line.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"genlock.dev/genlock/cmd/genlockctl/cmd"
	"genlock.dev/genlock/pkg/log"
)

var (
	debug     = flag.Bool("debug", false, "enable debug logging.")
	logFormat = flag.String("log-format", "text", "log format: text or json.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Demo), "")
	subcommands.Register(new(cmd.Stress), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
		log.SetLevel(log.Debug)
	}
	switch *logFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		cmd.Fatalf("invalid log format %q, must be text or json", *logFormat)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
