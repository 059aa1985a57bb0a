// Command nv-dhcp-ctl is the thin RPC client invoked by the container
// manager at container setup/teardown.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/rpc"
	"os"

	"github.com/buger/jsonparser"

	"github.com/containers/nv-dhcp-proxy/internal/coordinator"
	"github.com/containers/nv-dhcp-proxy/internal/lease"
	"github.com/containers/nv-dhcp-proxy/internal/nverrors"
	"github.com/containers/nv-dhcp-proxy/internal/rpcwire"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	sub := os.Args[1]
	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	file := fs.String("file", "", "path to a NetworkConfig JSON file (default stdin)")
	uds := fs.String("uds", "/run/nv-dhcp/nv-dhcp-uds.sock", "Unix domain socket path")
	_ = fs.Parse(os.Args[2:])

	switch sub {
	case "setup":
		os.Exit(run(*uds, *file, "Coordinator.Setup"))
	case "teardown":
		os.Exit(run(*uds, *file, "Coordinator.Teardown"))
	case "clean":
		os.Exit(runClean(*uds))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: nv-dhcp-ctl setup|teardown [--file path] [--uds path]")
	fmt.Fprintln(os.Stderr, "       nv-dhcp-ctl clean [--uds path]")
}

// runClean wipes the daemon's entire lease cache; it takes no request body.
func runClean(uds string) int {
	client, err := rpc.DialHTTP("unix", uds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: connect to %s: %v\n", uds, err)
		return 1
	}
	defer client.Close()

	var reply coordinator.OperationResponse
	if err := client.Call("Coordinator.Clean", rpcwire.Empty{}, &reply); err != nil {
		status := nverrors.ParseStatus(err)
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: %s\n", status.Message)
		return status.Kind.ExitCode()
	}

	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: encode response: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func run(uds, file, method string) int {
	data, err := readInput(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: %v\n", err)
		return 1
	}

	if mac, parseErr := jsonparser.GetString(data, "container_mac_addr"); parseErr != nil || mac == "" {
		fmt.Fprintln(os.Stderr, "nv-dhcp-ctl: input is missing container_mac_addr")
		return nverrors.InvalidArgument.ExitCode()
	}

	var req coordinator.NetworkConfig
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: parse NetworkConfig: %v\n", err)
		return nverrors.InvalidArgument.ExitCode()
	}

	client, err := rpc.DialHTTP("unix", uds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: connect to %s: %v\n", uds, err)
		return 1
	}
	defer client.Close()

	var reply lease.Lease
	if err := client.Call(method, req, &reply); err != nil {
		status := nverrors.ParseStatus(err)
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: %s\n", status.Message)
		return status.Kind.ExitCode()
	}

	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "nv-dhcp-ctl: encode response: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func readInput(file string) ([]byte, error) {
	if file == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}
