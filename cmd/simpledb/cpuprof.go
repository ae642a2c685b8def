//go:build cpuprof

package main

import (
	"os"
	"runtime/pprof"

	"github.com/rs/zerolog/log"
)

func init() {
	hooks = append(hooks, &cpuprof{})
}

// cpuprof profiles the storage core's CPU usage for the lifetime of the
// server process, writing a pprof-compatible profile on shutdown.
type cpuprof struct {
	f *os.File
}

func (c *cpuprof) OnStart() error {
	f, err := os.Create("simpledb-cpu.prof")
	if err != nil {
		return err
	}
	c.f = f

	log.Info().Str("file", f.Name()).Msg("cpuprof: profiling started")
	return pprof.StartCPUProfile(c.f)
}

func (c *cpuprof) OnEnd() error {
	pprof.StopCPUProfile()
	log.Info().Str("file", c.f.Name()).Msg("cpuprof: profile written")
	return c.f.Close()
}
