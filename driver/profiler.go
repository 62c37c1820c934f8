package driver

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Profiler writes a CPU profile to filename and, on Close, a heap profile
// next to it. An empty filename disables profiling.
type Profiler struct {
	f        *os.File
	filename string
}

func NewProfiler(filename string) (*Profiler, error) {
	prof := &Profiler{filename: filename}
	if filename == "" {
		return prof, nil
	}
	var err error
	if prof.f, err = os.Create(filename); err != nil {
		return nil, fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(prof.f); err != nil {
		prof.f.Close()
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}
	return prof, nil
}

func (p *Profiler) Close() error {
	if p.f == nil {
		return nil
	}
	pprof.StopCPUProfile()
	p.f.Close()
	p.f = nil

	runtime.GC()
	memProf, err := os.Create(p.filename + "-mem.prof")
	if err != nil {
		return err
	}
	defer memProf.Close()
	return pprof.WriteHeapProfile(memProf)
}
