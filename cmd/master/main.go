// Command master runs the reference all-reduce coordinator: it listens for
// worker registrations, bootstraps the group once a quorum has checked in,
// and paces rounds as CompleteAllreduce reports arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/lagreduce/lagreduce/link"
	"github.com/lagreduce/lagreduce/link/tcplink"
	"github.com/lagreduce/lagreduce/master"
)

func main() {
	port := 2551
	totalWorkers := 2
	dataSize := totalWorkers * 5
	maxChunkSize := 2

	args := os.Args[1:]
	if len(args) > 0 {
		port = atoiOrFatal(args[0], "port")
	}
	if len(args) > 1 {
		totalWorkers = atoiOrFatal(args[1], "totalWorkers")
		dataSize = totalWorkers * 5
	}
	if len(args) > 2 {
		dataSize = atoiOrFatal(args[2], "dataSize")
	}
	if len(args) > 3 {
		maxChunkSize = atoiOrFatal(args[3], "maxChunkSize")
	}

	addr := fmt.Sprintf(":%d", port)
	ml, err := tcplink.ListenMaster(addr)
	if err != nil {
		glog.Fatalf("master: listen %s: %v", addr, err)
	}
	defer ml.Close()

	m := master.New(ml, master.Config{
		Addr:         ml.Addr(),
		TotalWorkers: totalWorkers,
		ThAllreduce:  1.0,
		ThReduce:     0.9,
		ThComplete:   0.8,
		MaxLag:       1,
		DataSize:     dataSize,
		MaxChunkSize: maxChunkSize,
		MaxRound:     100,
	})
	m.RegisterAddr = ml.AddWorker

	// Workers announce their own dial-back address on a small side channel
	// one port above the protocol listener, since the wire schema itself
	// carries no registration message — membership discovery is explicitly
	// left to whatever fronts the master, and this is the reference
	// launcher's minimal stand-in for that.
	regAddr := fmt.Sprintf(":%d", port+1)
	regLis, err := net.Listen("tcp", regAddr)
	if err != nil {
		glog.Fatalf("master: listen %s: %v", regAddr, err)
	}
	defer regLis.Close()
	glog.Infof("master: protocol on %s, registration on %s, waiting for %d workers", addr, regAddr, totalWorkers)

	go acceptRegistrations(regLis, m)

	m.RunLoop()
}

func acceptRegistrations(lis net.Listener, m *master.Master) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil {
				return
			}
			workerAddr := strings.TrimSpace(line)
			_, err = m.MemberUp(context.Background(), workerAddr, "worker", func(context.Context) (link.PeerAddr, error) {
				return workerAddr, nil
			})
			if err != nil {
				glog.Warningf("master: registering %s: %v", workerAddr, err)
			}
		}()
	}
}

func atoiOrFatal(s, name string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		glog.Fatalf("master: invalid %s %q: %v", name, s, err)
	}
	return n
}
