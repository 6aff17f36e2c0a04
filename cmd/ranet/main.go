/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
ranet - a single node of a partial Raft consensus cluster

Usage:

	ranet <nodenum> [--config path]

<nodenum> indexes into the cluster's peer table (built-in default: a
five-node loopback cluster on 127.0.0.1:15000-15004; override with
--config or the RANET_PEERS environment variable). The process starts
the node's runtime harness in the background and drops into a REPL
supporting:

	client-append-entry("item")   append an entry if this node is leader
	raftdebug()                    print this node's current Raft state
	\h, \help                      show this help
	\q, \quit, exit                leave the REPL (the node keeps running
	                                until the process is killed)
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"ranet/internal/clusteraudit"
	"ranet/internal/config"
	"ranet/internal/logging"
	"ranet/internal/raft"
	"ranet/internal/runtime"
	"ranet/pkg/cli"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		cli.ErrMissingArgument("<nodenum>", "ranet <nodenum> [--config path]").Exit()
	}

	var configPath string
	args := os.Args[1:]
	nodeArg := args[0]
	for i := 1; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		}
	}

	mgr := config.Global()
	if configPath != "" {
		if err := mgr.LoadFromFile(configPath); err != nil {
			cli.ErrConfigNotFound(configPath).Exit()
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if err := cfg.Validate(); err != nil {
		cli.NewCLIError("Invalid cluster configuration").WithDetail(err.Error()).Exit()
	}

	nodeNum, err := strconv.Atoi(nodeArg)
	if err != nil || nodeNum < 0 || nodeNum >= len(cfg.Peers) {
		cli.ErrNodeNumberInvalid(nodeArg, len(cfg.Peers)).Exit()
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	log := logging.NewLogger("ranet")

	addr := cfg.Peers[nodeNum]
	peers := make([]string, 0, len(cfg.Peers)-1)
	for i, p := range cfg.Peers {
		if i != nodeNum {
			peers = append(peers, p)
		}
	}

	auditCfg := clusteraudit.DefaultConfig()
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err == nil {
			auditCfg.ExportPath = cfg.DataDir + "/audit.jsonl"
		}
	}
	audit := clusteraudit.NewRecorder(auditCfg)
	defer audit.Close()

	harness, err := runtime.New(addr, peers, cfg, audit)
	if err != nil {
		cli.NewCLIError("Failed to build node runtime").WithDetail(err.Error()).Exit()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		if err := harness.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("runtime harness exited", "error", err)
		}
	}()

	cli.PrintSuccess("ranet node %d listening on %s (peers: %s)", nodeNum, addr, strings.Join(peers, ", "))
	runREPL(harness, addr)
	<-ctx.Done()
}

func runREPL(h *runtime.Harness, addr string) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", addr),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		cli.PrintError("failed to start REPL: %v", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !dispatchCommand(h, line) {
			break
		}
	}
}

// dispatchCommand runs one REPL line. It returns false when the REPL
// should exit.
func dispatchCommand(h *runtime.Harness, line string) bool {
	switch {
	case line == "\\q" || line == "\\quit" || line == "exit":
		return false
	case line == "\\h" || line == "\\help":
		printHelp()
	case line == "raftdebug()":
		h.Submit(raft.RaftDebug{})
		fmt.Println(h.State().String())
	case strings.HasPrefix(line, "client-append-entry("):
		item, ok := parseStringArg(line, "client-append-entry")
		if !ok {
			cli.ErrInvalidValue("client-append-entry argument", line, `expected client-append-entry("item")`).Print()
			return true
		}
		if h.State().Role != raft.Leader {
			cli.ErrNotLeader(h.Address).Print()
			return true
		}
		h.Submit(raft.ClientAppendEntry{Item: []byte(item)})
	default:
		cli.ErrInvalidCommand(line).Print()
	}
	return true
}

// parseStringArg extracts the quoted string argument from a call of the
// form `name("argument")`.
func parseStringArg(line, name string) (string, bool) {
	prefix := name + "(\""
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := line[len(prefix):]
	end := strings.Index(rest, "\")")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func printHelp() {
	h := cli.NewHelpFormatter("ranet", version)
	h.AddCommand(cli.Command{
		Name:        "client-append-entry",
		Description: "Append an entry to the log (leader only)",
		Usage:       `client-append-entry("item")`,
	})
	h.AddCommand(cli.Command{
		Name:        "raftdebug",
		Description: "Print this node's current Raft state",
		Usage:       "raftdebug()",
	})
	h.AddCommand(cli.Command{
		Name:        "\\q, \\quit, exit",
		Description: "Leave the REPL without stopping the node",
	})
	h.PrintUsage()
}
