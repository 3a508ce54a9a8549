// Command worker runs a single all-reduce participant: it registers with
// the master, then drives worker.Worker.RunLoop over a live TCP link,
// feeding it pseudo-random input vectors and logging each completed
// round's aggregate.
package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"

	"github.com/golang/glog"

	"github.com/lagreduce/lagreduce/link/tcplink"
	"github.com/lagreduce/lagreduce/worker"
)

func main() {
	port := 2553
	sourceDataSize := 10

	args := os.Args[1:]
	if len(args) > 0 {
		port = atoiOrFatal(args[0], "port")
	}
	if len(args) > 1 {
		sourceDataSize = atoiOrFatal(args[1], "sourceDataSize")
	}

	addr := fmt.Sprintf(":%d", port)
	l, err := tcplink.Listen(addr)
	if err != nil {
		glog.Fatalf("worker: listen %s: %v", addr, err)
	}
	defer l.Close()

	// The reference launcher assumes master and worker run on the same
	// host, reachable at the master's default protocol/registration ports;
	// the worker's CLI surface takes no master-address argument, so this is
	// a fixed convention rather than a discovered value.
	if err := registerWithMaster("localhost:2552", l.Addr()); err != nil {
		glog.Fatalf("worker: registering with master: %v", err)
	}

	rng := rand.New(rand.NewSource(int64(port)))
	source := func(worker.AllReduceInputRequest) (worker.AllReduceInput, error) {
		vec := make([]float64, sourceDataSize)
		for i := range vec {
			vec[i] = rng.Float64()
		}
		return worker.AllReduceInput{Data: vec}, nil
	}
	sink := func(out worker.AllReduceOutput) {
		glog.Infof("worker: round %d complete, aggregate=%v", out.Iteration, out.Data)
	}

	w := worker.New(l, source, sink, nil)
	w.RunLoop()
}

func registerWithMaster(regAddr, selfAddr string) error {
	conn, err := net.Dial("tcp", regAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(selfAddr + "\n"); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return conn.(*net.TCPConn).CloseWrite()
}

func atoiOrFatal(s, name string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		glog.Fatalf("worker: invalid %s %q: %v", name, s, err)
	}
	return n
}
