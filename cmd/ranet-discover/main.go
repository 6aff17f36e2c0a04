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
ranet-discover - ranet Node Discovery Tool

Advertises and/or browses for ranet nodes on the local network over mDNS
(_ranet._tcp), printing each discovered node as "id -> host:port" so an
operator can paste the result into a cluster config file. It never joins
or reconfigures a running cluster.

Usage:

	ranet-discover                          # browse for 5 seconds
	ranet-discover --timeout 10             # custom browse timeout
	ranet-discover --json                   # JSON output
	ranet-discover --quiet                  # addresses only, for scripting
	ranet-discover --advertise --id n0 --port 15000   # advertise this node and exit on signal
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"

	"ranet/pkg/cli"
)

const (
	version   = "1.0.0"
	copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."

	serviceName = "_ranet._tcp"
)

// discoveredNode is one peer found on the network.
type discoveredNode struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output addresses (for scripting)")
	advertise := flag.Bool("advertise", false, "Advertise this node instead of browsing")
	nodeID := flag.String("id", "", "Node id to advertise (required with --advertise)")
	port := flag.Int("port", 0, "Cluster port to advertise (required with --advertise)")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(showVersion, "v", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output addresses (for scripting)")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// The mdns library logs IPv6 lookup failures at a volume that isn't
	// actionable for this tool's purpose.
	log.SetOutput(io.Discard)

	if *advertise {
		runAdvertise(*nodeID, *port)
		return
	}

	var spinner *cli.Spinner
	if !*quiet && !*jsonOutput {
		printBanner()
		spinner = cli.NewSpinner(fmt.Sprintf("Scanning for ranet nodes (timeout: %ds)...", *timeout))
		spinner.Start()
	}

	nodes, err := discoverNodes(time.Duration(*timeout) * time.Second)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		if !*quiet {
			cli.PrintError("Discovery failed: %v", err)
		}
		os.Exit(1)
	}

	if len(nodes) == 0 {
		if !*quiet && !*jsonOutput {
			cli.PrintWarning("No ranet nodes found on the network.")
			fmt.Println()
			fmt.Printf("%s\n\n", cli.Highlight("TROUBLESHOOTING"))
			fmt.Printf("  %s\n", cli.Dimmed("Common issues:"))
			fmt.Println("    • No node is running with --advertise")
			fmt.Println("    • mDNS/Bonjour is blocked by a firewall (UDP port 5353)")
			fmt.Println("    • Nodes are on a different network segment")
			fmt.Println()
			fmt.Printf("  %s\n", cli.Dimmed("Try:"))
			fmt.Println("    ranet-discover --timeout 10")
			fmt.Println()
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(nodes)
	case *quiet:
		outputQuiet(nodes)
	default:
		outputHuman(nodes)
	}
}

// discoverNodes browses for ranet service records for the given
// duration and returns every distinct node found.
func discoverNodes(timeout time.Duration) ([]discoveredNode, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	params := &mdns.QueryParam{
		Service: serviceName,
		Timeout: timeout,
		Entries: entries,
	}

	done := make(chan error, 1)
	go func() { done <- mdns.Query(params) }()

	var nodes []discoveredNode
	seen := make(map[string]bool)
loop:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break loop
			}
			id := strings.TrimSuffix(entry.Name, "."+serviceName+".local.")
			addr := fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port)
			if seen[addr] {
				continue
			}
			seen[addr] = true
			nodes = append(nodes, discoveredNode{NodeID: id, Addr: addr})
		case err := <-done:
			if err != nil {
				return nodes, err
			}
		case <-time.After(timeout + time.Second):
			break loop
		}
	}
	return nodes, nil
}

// runAdvertise registers nodeID/port as an mDNS service record and
// blocks until interrupted.
func runAdvertise(nodeID string, port int) {
	if nodeID == "" || port == 0 {
		cli.ErrMissingArgument("--id and --port", "ranet-discover --advertise --id <id> --port <port>").Exit()
	}

	host, _ := os.Hostname()
	service, err := mdns.NewMDNSService(nodeID, serviceName, "", "", port, nil, []string{"ranet-node=" + nodeID})
	if err != nil {
		cli.PrintError("failed to build mDNS service record: %v", err)
		os.Exit(1)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		cli.PrintError("failed to start mDNS server: %v", err)
		os.Exit(1)
	}
	defer server.Shutdown()

	cli.PrintSuccess("Advertising %s on %s:%d (%s)", nodeID, host, port, serviceName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func printBanner() {
	fmt.Println()
	fmt.Println(cli.Highlight("  ranet-discover"))
	fmt.Printf("  %s\n\n", cli.Dimmed("mDNS peer discovery for ranet clusters"))
}

func printVersion() {
	fmt.Println()
	fmt.Printf("  %s v%s\n", cli.Highlight("ranet-discover"), version)
	fmt.Printf("  %s\n\n", cli.Dimmed(copyright))
}

func printUsage() {
	printBanner()
	fmt.Printf("%s\n\n", cli.Dimmed("Discovers ranet nodes on the local network using mDNS."))

	fmt.Printf("%s ranet-discover [options]\n\n", cli.Highlight("Usage:"))

	fmt.Printf("%s\n\n", cli.Highlight("OPTIONS"))
	fmt.Println("    --timeout <seconds>      Discovery timeout (default: 5)")
	fmt.Println("    --json                   Output results as JSON")
	fmt.Println("    --quiet, -q              Only output addresses (for scripting)")
	fmt.Println("    --advertise              Advertise this node instead of browsing")
	fmt.Println("    --id <node-id>           Node id to advertise (with --advertise)")
	fmt.Println("    --port <port>            Cluster port to advertise (with --advertise)")
	fmt.Println("    --version, -v            Show version information")
	fmt.Println("    --help, -h               Show this help message")
	fmt.Println()

	fmt.Printf("%s\n\n", cli.Highlight("EXAMPLES"))
	fmt.Println("    ranet-discover")
	fmt.Println("    ranet-discover --timeout 10")
	fmt.Println("    ranet-discover --advertise --id n0 --port 15000")
	fmt.Println()
}

func outputJSON(nodes []discoveredNode) {
	data, _ := json.MarshalIndent(nodes, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(nodes []discoveredNode) {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Addr
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(nodes []discoveredNode) {
	cli.PrintSuccess("Found %d ranet node(s)", len(nodes))
	fmt.Println()

	table := cli.NewTable("#", "NODE ID", "ADDRESS")
	for i, n := range nodes {
		table.AddRow(strconv.Itoa(i+1), n.NodeID, n.Addr)
	}
	table.Print()

	fmt.Println()
	fmt.Printf("  %s\n\n", cli.Dimmed("Tip: paste these addresses into a cluster config file's \"peers\" line."))
}
