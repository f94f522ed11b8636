package adminserver

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/corfudb-go/logunit/pkg/engine"
	"github.com/corfudb-go/logunit/util"
)

const maxWorkers = 256

// Run starts the admin/diagnostic TCP listener on port and blocks, the way
// the teacher's RunServer blocks on its own Accept loop. Each connection gets
// a line-oriented command session; EXIT or EOF closes it.
func Run(port int, e *engine.Engine) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	util.Info("admin server listening on %s", addr)

	workerCh := make(chan net.Conn, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go func() {
			for conn := range workerCh {
				handleConnection(conn, e)
			}
		}()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			util.Warn("admin server accept error: %v", err)
			continue
		}
		workerCh <- conn
	}
}

func handleConnection(conn net.Conn, e *engine.Engine) {
	defer conn.Close()

	ch := NewCommandHandler(e)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(line), "EXIT") {
			return
		}
		resp := ch.HandleCommand(line)
		if resp == "" {
			continue
		}
		if _, err := fmt.Fprintln(conn, resp); err != nil {
			util.Warn("admin server write error: %v", err)
			return
		}
	}
}
