package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"time"

	"github.com/golang/glog"
)

const (
	memProfileRate = 4096
	timeFormat     = "20060102_150405"
)

// Profiler is an active profiling session writing into one directory.
type Profiler struct {
	dir     string
	once    sync.Once
	closers []func()
}

// StartProfiler starts cpu, trace, heap, block and mutex profiling. Stop writes
// the profiles.
func StartProfiler(dir string) *Profiler {
	p := &Profiler{dir: dir}
	if err := os.MkdirAll(dir, 0750); err != nil {
		glog.Errorf("StartProfiler(): create dir %s: %v", dir, err)
		return p
	}

	if f := p.create("cpu"); f != nil {
		if err := pprof.StartCPUProfile(f); err != nil {
			glog.Errorf("StartProfiler(): cpu: %v", err)
			f.Close()
		} else {
			p.closers = append(p.closers, func() { pprof.StopCPUProfile(); f.Close() })
		}
	}
	if f := p.create("trace"); f != nil {
		if err := trace.Start(f); err != nil {
			glog.Errorf("StartProfiler(): trace: %v", err)
			f.Close()
		} else {
			p.closers = append(p.closers, func() { trace.Stop(); f.Close() })
		}
	}

	oldRate := runtime.MemProfileRate
	runtime.MemProfileRate = memProfileRate
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	for _, name := range []string{"heap", "block", "mutex"} {
		if f := p.create(name); f != nil {
			name := name
			p.closers = append(p.closers, func() {
				if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
					glog.Errorf("Profiler.Stop(): write %s: %v", name, err)
				}
				f.Close()
			})
		}
	}
	p.closers = append(p.closers, func() {
		runtime.MemProfileRate = oldRate
		runtime.SetBlockProfileRate(0)
		runtime.SetMutexProfileFraction(0)
	})

	glog.Infof("pprof: profiling into %s", dir)
	return p
}

// Stop is idempotent.
func (p *Profiler) Stop() {
	p.once.Do(func() {
		for _, c := range p.closers {
			c()
		}
		glog.Infof("pprof: profiling stopped, %s", p.dir)
	})
}

func (p *Profiler) create(kind string) *os.File {
	fn := filepath.Join(p.dir, fmt.Sprintf("%s-%s.pprof", kind, time.Now().Format(timeFormat)))
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: create %s: %v", fn, err)
		return nil
	}
	return f
}

func dumpGoroutines(dir string) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		glog.Errorf("dumpGoroutines(): create dir %s: %v", dir, err)
		return
	}
	fn := filepath.Join(dir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(timeFormat)))
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("dumpGoroutines(): %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("dumpGoroutines(): write %s: %v", fn, err)
		return
	}
	glog.Infof("dumpGoroutines(): %s", fn)
}
