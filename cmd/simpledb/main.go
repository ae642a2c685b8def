// Command simpledb runs the transactional storage core as a small
// line-protocol TCP server: enough to drive transactions, block reads
// and writes, and commit/rollback from a plain netcat session, without
// the SQL layer this repository's transformation leaves out of scope.
// It is grounded on simpledb's cmd/simpledb/main.go, generalized from a
// SQL-statement session to a transaction-primitive session matching what
// this core actually exposes.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/luigitni/simpledb/simpledb"
	"github.com/luigitni/simpledb/storage"
	"github.com/luigitni/simpledb/transaction"
)

type hook interface {
	OnStart() error
	OnEnd() error
}

var hooks []hook

func main() {
	var (
		dir        = pflag.String("dir", "./data", "database directory")
		blockSize  = pflag.Int32("blocksize", 4096, "block size in bytes")
		numBuffers = pflag.Int("buffers", 100, "number of buffer pool slots")
		logFile    = pflag.String("log-file", "simpledb.wal", "write-ahead log file name, relative to dir")
		addr       = pflag.String("addr", ":8765", "tcp listen address")
		verbose    = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	for _, h := range hooks {
		if err := h.OnStart(); err != nil {
			log.Error().Err(err).Msg("hook failed to start")
			os.Exit(1)
		}
	}

	db, err := simpledb.Open(simpledb.Config{
		Dir:        *dir,
		BlockSize:  *blockSize,
		NumBuffers: *numBuffers,
		LogFile:    *logFile,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go listen(ctx, *addr, db)

	<-quit
	cancel()
	for _, h := range hooks {
		if err := h.OnEnd(); err != nil {
			log.Error().Err(err).Msg("hook failed to end")
		}
	}
	log.Info().Msg("shutting down")
}

func listen(ctx context.Context, addr string, db *simpledb.DB) {
	l, err := net.Listen("tcp4", addr)
	if err != nil {
		log.Error().Err(err).Msg("listen failed")
		return
	}
	defer l.Close()

	log.Info().Str("addr", addr).Msg("listening")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := l.Accept()
			if err != nil {
				continue
			}
			go handleSession(conn, db)
		}
	}
}

// session holds the open transactions for one connection, keyed by the
// id the client chose when it issued BEGIN.
type session struct {
	db  *simpledb.DB
	txs map[string]*transaction.Transaction
}

func handleSession(conn net.Conn, db *simpledb.DB) {
	defer conn.Close()
	fmt.Fprint(conn, "simpledb transactional core - try BEGIN, GET, SET, COMMIT, ROLLBACK, EXIT\n> ")

	s := &session{db: db, txs: map[string]*transaction.Transaction{}}
	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(conn, "> ")
			continue
		}

		if strings.EqualFold(line, "exit") {
			fmt.Fprint(conn, "bye!\n")
			return
		}

		fmt.Fprintln(conn, s.dispatch(line))
		fmt.Fprint(conn, "> ")
	}
}

// dispatch parses and executes one line of the session protocol:
//
//	BEGIN <name>
//	GET <name> <file> <block> <offset>
//	SET <name> <file> <block> <offset> <int32>
//	COMMIT <name>
//	ROLLBACK <name>
func (s *session) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "error: empty command"
	}

	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "BEGIN":
		return s.begin(args)
	case "GET":
		return s.get(args)
	case "SET":
		return s.set(args)
	case "COMMIT":
		return s.end(args, true)
	case "ROLLBACK":
		return s.end(args, false)
	default:
		return fmt.Sprintf("error: unknown command %q", cmd)
	}
}

func (s *session) begin(args []string) string {
	if len(args) != 1 {
		return "usage: BEGIN <name>"
	}
	name := args[0]
	if _, exists := s.txs[name]; exists {
		return fmt.Sprintf("error: transaction %q already open", name)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	s.txs[name] = tx
	return fmt.Sprintf("ok: begin %s (id=%d)", name, tx.ID())
}

func (s *session) get(args []string) string {
	if len(args) != 4 {
		return "usage: GET <name> <file> <block> <offset>"
	}
	tx, err := s.txFor(args[0])
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	block, offset, err := parseBlockOffset(args[1], args[2], args[3])
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}

	v, err := tx.ReadInt32(block, offset)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("ok: %d", v)
}

func (s *session) set(args []string) string {
	if len(args) != 5 {
		return "usage: SET <name> <file> <block> <offset> <int32>"
	}
	tx, err := s.txFor(args[0])
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	block, offset, err := parseBlockOffset(args[1], args[2], args[3])
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	val, err := strconv.ParseInt(args[4], 10, 32)
	if err != nil {
		return fmt.Sprintf("error: bad value %q", args[4])
	}

	if err := tx.WriteInt32(block, offset, int32(val), true); err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return "ok"
}

func (s *session) end(args []string, commit bool) string {
	if len(args) != 1 {
		return "usage: COMMIT|ROLLBACK <name>"
	}
	tx, err := s.txFor(args[0])
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	delete(s.txs, args[0])

	if commit {
		err = tx.Commit()
	} else {
		err = tx.Rollback()
	}
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return "ok"
}

func (s *session) txFor(name string) (*transaction.Transaction, error) {
	tx, ok := s.txs[name]
	if !ok {
		return nil, fmt.Errorf("no open transaction named %q", name)
	}
	return tx, nil
}

func parseBlockOffset(file, blockStr, offsetStr string) (storage.BlockID, int32, error) {
	index, err := strconv.ParseInt(blockStr, 10, 32)
	if err != nil {
		return storage.BlockID{}, 0, fmt.Errorf("bad block index %q", blockStr)
	}
	offset, err := strconv.ParseInt(offsetStr, 10, 32)
	if err != nil {
		return storage.BlockID{}, 0, fmt.Errorf("bad offset %q", offsetStr)
	}
	return storage.NewBlockID(file, int32(index)), int32(offset), nil
}
