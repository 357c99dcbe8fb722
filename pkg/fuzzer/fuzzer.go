// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the coverage-guided fuzzing engine: worker
// scheduling, corpus management, coverage stabilization, crash deduplication
// and resumable state.
package fuzzer

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/delivery"
	"github.com/google/jackalope/pkg/instrumentation"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/mutator"
	"github.com/google/jackalope/pkg/osutil"
	"github.com/google/jackalope/pkg/sample"
	"github.com/google/jackalope/pkg/stat"
)

const (
	sampleRetryTimes    = 4
	crashReproduceTimes = 10
	trimStepInitial     = 1024

	// minPriority starts above any priority an entry can reach, so the first
	// popped entry always lowers it.
	initialMinPriority = 1.79e+308

	crashDir  = "crashes"
	hangDir   = "hangs"
	sampleDir = "samples"
	stateFile = "state.dat"
)

// Phase is the global intent of the engine. Workers ingest local input files
// first, then samples pulled from the coverage server, then fuzz the corpus.
type Phase int

const (
	PhaseInput Phase = iota
	PhaseServer
	PhaseFuzzing
)

// Server is the coverage server client consumed by the engine. The engine
// serializes all calls, implementations need not be thread-safe.
// Exchange is best-effort, errors are logged and fuzzing continues.
type Server interface {
	// ReportNewCoverage uploads coverage this fuzzer discovered. s is the
	// sample that produced it, or nil for variable coverage with no canonical
	// reproducer.
	ReportNewCoverage(cov coverage.Coverage, s *sample.Sample) error

	// ReportCrash uploads a crashing sample under its deduplication name.
	ReportCrash(s *sample.Sample, name string) error

	// GetUpdates downloads samples other fuzzers discovered since the last call.
	GetUpdates(totalExecs uint64) ([]*sample.Sample, error)
}

type Config struct {
	// TargetArgs is the target binary and its arguments. The "@@" placeholder
	// is substituted with the per-worker sample location.
	TargetArgs []string
	// InputDir is the seed corpus directory. Ignored when Restore is set.
	InputDir  string
	OutputDir string

	NumThreads int

	// TimeoutMs bounds one target execution. InitTimeoutMs additionally covers
	// target startup, CorpusTimeoutMs is used while ingesting the seed corpus.
	TimeoutMs       uint32
	InitTimeoutMs   uint32
	CorpusTimeoutMs uint32

	DeliveryType string
	SaveHangs    bool
	// Restore rebuilds the corpus and coverage from OutputDir/state.dat
	// instead of ingesting InputDir.
	Restore bool

	AcceptableHangRatio  float64
	AcceptableCrashRatio float64

	ServerUpdateInterval time.Duration
	SaveInterval         time.Duration

	Server Server
	// Filter optionally normalizes samples before execution.
	Filter OutputFilter

	// Factories for per-worker collaborators. Defaults cover the common case,
	// tests substitute fakes.
	CreateMutator         func() mutator.Mutator
	CreateInstrumentation func(tid int) instrumentation.Instrumentation
	CreateDelivery        func(tid int) (delivery.Delivery, error)
}

type Fuzzer struct {
	cfg *Config

	// Lock order: outputMu -> coverageMu -> queueMu -> serverMu.
	// crashMu is only ever taken alone. The one exception is the end of input
	// processing in synchronizeAndGetJob, which takes serverMu and then
	// coverageMu while holding queueMu.

	outputMu   sync.Mutex
	numSamples uint64
	numHangs   uint64

	coverageMu sync.Mutex
	coverage   coverage.Coverage

	queueMu          sync.Mutex
	queue            sampleQueue
	allSamples       []*sample.Sample
	inputFiles       []string
	serverSamples    []*sample.Sample
	phase            Phase
	samplesPending   int
	minPriority      float64
	lastServerUpdate time.Time

	crashMu          sync.Mutex
	crashes          map[string]int
	numCrashes       uint64
	numUniqueCrashes uint64

	serverMu sync.Mutex

	// Monitoring-only counters, coarse accuracy is fine.
	totalExecs          atomic.Uint64
	numSamplesDiscarded atomic.Uint64

	statExecTime *stat.Val
}

func New(cfg *Config) (*Fuzzer, error) {
	setDefaults(cfg)
	fuzzer := &Fuzzer{
		cfg:         cfg,
		coverage:    make(coverage.Coverage),
		crashes:     make(map[string]int),
		minPriority: initialMinPriority,
		phase:       PhaseInput,
	}
	for _, dir := range []string{"", crashDir, hangDir, sampleDir} {
		if err := osutil.MkdirAll(filepath.Join(cfg.OutputDir, dir)); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if cfg.Restore {
		if err := fuzzer.restoreState(); err != nil {
			return nil, err
		}
	} else {
		files, err := osutil.ListFiles(cfg.InputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read input directory: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no input files in %v", cfg.InputDir)
		}
		log.Logf(0, "%v input files read", len(files))
		fuzzer.inputFiles = files
	}
	fuzzer.initStats()
	return fuzzer, nil
}

func setDefaults(cfg *Config) {
	if cfg.NumThreads == 0 {
		cfg.NumThreads = 1
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 0x7fffffff
	}
	if cfg.InitTimeoutMs == 0 {
		cfg.InitTimeoutMs = cfg.TimeoutMs
	}
	if cfg.CorpusTimeoutMs == 0 {
		cfg.CorpusTimeoutMs = cfg.TimeoutMs
	}
	if cfg.AcceptableHangRatio == 0 {
		cfg.AcceptableHangRatio = 0.01
	}
	if cfg.AcceptableCrashRatio == 0 {
		cfg.AcceptableCrashRatio = 0.02
	}
	if cfg.ServerUpdateInterval == 0 {
		cfg.ServerUpdateInterval = 5 * time.Minute
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = 5 * time.Minute
	}
	if cfg.CreateMutator == nil {
		cfg.CreateMutator = func() mutator.Mutator { return mutator.NewByteMutator() }
	}
	if cfg.CreateInstrumentation == nil {
		cfg.CreateInstrumentation = func(tid int) instrumentation.Instrumentation {
			return instrumentation.NewProcess(filepath.Join(cfg.OutputDir, fmt.Sprintf(".cover_%v", tid)))
		}
	}
	if cfg.CreateDelivery == nil {
		cfg.CreateDelivery = func(tid int) (delivery.Delivery, error) {
			return delivery.Create(cfg.DeliveryType, cfg.OutputDir, os.Getpid(), tid)
		}
	}
}

// ThreadContext holds the per-worker collaborators. Workers never share them.
type ThreadContext struct {
	id         int
	fuzzer     *Fuzzer
	rnd        *rand.Rand
	mutator    mutator.Mutator
	inst       instrumentation.Instrumentation
	delivery   delivery.Delivery
	targetArgs []string
	// allSamples is the worker's view of the corpus, extended opportunistically
	// under queueMu when the shared index has grown.
	allSamples []*sample.Sample
}

func (fuzzer *Fuzzer) createThreadContext(id int) (*ThreadContext, error) {
	del, err := fuzzer.cfg.CreateDelivery(id)
	if err != nil {
		return nil, err
	}
	tc := &ThreadContext{
		id:       id,
		fuzzer:   fuzzer,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		mutator:  fuzzer.cfg.CreateMutator(),
		inst:     fuzzer.cfg.CreateInstrumentation(id),
		delivery: del,
	}
	tc.targetArgs = del.TargetArgs(fuzzer.cfg.TargetArgs)
	// Known edges are filtered at source, the worker never re-reports them.
	fuzzer.coverageMu.Lock()
	tc.inst.IgnoreCoverage(fuzzer.coverage.Copy())
	fuzzer.coverageMu.Unlock()
	return tc, nil
}

// Run spawns the workers and loops forever printing status and snapshotting
// state. It never returns.
func (fuzzer *Fuzzer) Run() {
	for id := 1; id <= fuzzer.cfg.NumThreads; id++ {
		tc, err := fuzzer.createThreadContext(id)
		if err != nil {
			log.Fatalf("failed to create worker %v: %v", id, err)
		}
		go fuzzer.runWorker(tc)
	}
	lastExecs := uint64(0)
	lastSave := time.Now()
	for range time.NewTicker(time.Second).C {
		if time.Since(lastSave) >= fuzzer.cfg.SaveInterval {
			fuzzer.SaveState()
			lastSave = time.Now()
		}
		fuzzer.coverageMu.Lock()
		numOffsets := fuzzer.coverage.Count()
		fuzzer.coverageMu.Unlock()

		execs := fuzzer.totalExecs.Load()
		fuzzer.outputMu.Lock()
		numSamples, numHangs := fuzzer.numSamples, fuzzer.numHangs
		fuzzer.outputMu.Unlock()
		fuzzer.crashMu.Lock()
		numCrashes, numUnique := fuzzer.numCrashes, fuzzer.numUniqueCrashes
		fuzzer.crashMu.Unlock()

		log.Logf(0, "execs %v (%v/sec), samples %v (%v discarded), crashes %v (%v unique), hangs %v, offsets %v",
			execs, execs-lastExecs, numSamples, fuzzer.numSamplesDiscarded.Load(),
			numCrashes, numUnique, numHangs, numOffsets)
		lastExecs = execs
	}
}

func (fuzzer *Fuzzer) runWorker(tc *ThreadContext) {
	for {
		job := fuzzer.synchronizeAndGetJob(tc)
		switch job.typ {
		case jobWait:
			time.Sleep(time.Second)
		case jobProcessSample:
			fuzzer.runSample(tc, job.sample, nil, false, false,
				fuzzer.cfg.InitTimeoutMs, fuzzer.cfg.CorpusTimeoutMs)
		case jobFuzz:
			fuzzer.fuzzJob(tc, job)
		default:
			log.Fatalf("unknown job type %v", job.typ)
		}
		fuzzer.jobDone(job)
	}
}
