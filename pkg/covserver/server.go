// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package covserver implements the coverage server and its client. The server
// accumulates the union of edge coverage reported by all connected fuzzers and
// distributes the samples that produced new edges, so that every fuzzer
// eventually works on top of the combined corpus. The exchange is best-effort,
// fuzzers make progress with or without it.
package covserver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/hash"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/osutil"
	"github.com/google/jackalope/pkg/rpctype"
	"github.com/google/jackalope/pkg/stat"
)

const (
	// maxUpdateBatch bounds one GetUpdates reply, clients with a large backlog
	// pull repeatedly.
	maxUpdateBatch = 200

	maxIdenticalCrashes = 4

	sampleDir   = "samples"
	crashDir    = "crashes"
	coverageFil = "coverage.dat"
)

// Server holds the aggregated state. It is persisted to and restored from a
// work directory, so a restarted server keeps handing out the accumulated
// corpus (sample attribution is not persisted, after a restart every client
// re-downloads its own samples once).
type Server struct {
	mu       sync.Mutex
	workdir  string
	coverage coverage.Coverage
	samples  []serverSample
	hashes   map[hash.Sig]bool
	clients  map[string]*clientState
	crashes  map[string]int

	statCoverage *stat.Val
	statSamples  *stat.Val
	statCrashes  *stat.Val
}

type serverSample struct {
	from string
	data []byte
}

// clientState tracks how far into the sample list one fuzzer has pulled.
type clientState struct {
	connected time.Time
	cursor    int
}

// Make creates a Server and initializes it from workdir.
func Make(workdir string) (*Server, error) {
	serv := &Server{
		workdir:  workdir,
		coverage: make(coverage.Coverage),
		hashes:   make(map[hash.Sig]bool),
		clients:  make(map[string]*clientState),
		crashes:  make(map[string]int),
	}
	for _, dir := range []string{"", sampleDir, crashDir} {
		if err := osutil.MkdirAll(filepath.Join(workdir, dir)); err != nil {
			return nil, fmt.Errorf("failed to create server directory: %w", err)
		}
	}
	if err := serv.loadCoverage(); err != nil {
		return nil, err
	}
	if err := serv.loadSamples(); err != nil {
		return nil, err
	}
	if err := serv.loadCrashes(); err != nil {
		return nil, err
	}
	serv.statCoverage = stat.New("server coverage", "Aggregated edges across all fuzzers",
		stat.Console, func() int {
			serv.mu.Lock()
			defer serv.mu.Unlock()
			return serv.coverage.Count()
		})
	serv.statSamples = stat.New("server corpus", "Aggregated corpus samples",
		stat.Console, func() int {
			serv.mu.Lock()
			defer serv.mu.Unlock()
			return len(serv.samples)
		})
	serv.statCrashes = stat.New("server crashes", "Unique crash names reported",
		stat.Console, func() int {
			serv.mu.Lock()
			defer serv.mu.Unlock()
			return len(serv.crashes)
		})
	log.Logf(0, "server state loaded: %v samples, %v edges, %v crash types",
		len(serv.samples), serv.coverage.Count(), len(serv.crashes))
	return serv, nil
}

func (serv *Server) loadCoverage() error {
	f, err := os.Open(filepath.Join(serv.workdir, coverageFil))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	cov, err := coverage.ReadFrom(f)
	if err != nil {
		return fmt.Errorf("failed to load server coverage: %w", err)
	}
	serv.coverage = cov
	return nil
}

// Samples are stored as <sig>-<seq>, seq restores the distribution order.
func (serv *Server) loadSamples() error {
	dir := filepath.Join(serv.workdir, sampleDir)
	files, err := osutil.ListDir(dir)
	if err != nil {
		return err
	}
	type seqSample struct {
		seq  uint64
		sig  hash.Sig
		data []byte
	}
	var loaded []seqSample
	for _, name := range files {
		sigStr, seqStr, ok := strings.Cut(name, "-")
		if !ok {
			return fmt.Errorf("bad file in server corpus: %v", name)
		}
		sig, err := hash.FromString(sigStr)
		if err != nil {
			return fmt.Errorf("bad file in server corpus: %v", name)
		}
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			return fmt.Errorf("bad file in server corpus: %v", name)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if hash.Hash(data) != sig {
			return fmt.Errorf("corrupted file in server corpus: %v", name)
		}
		loaded = append(loaded, seqSample{seq: seq, sig: sig, data: data})
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].seq < loaded[j].seq })
	for _, s := range loaded {
		serv.hashes[s.sig] = true
		serv.samples = append(serv.samples, serverSample{data: s.data})
	}
	return nil
}

func (serv *Server) loadCrashes() error {
	files, err := osutil.ListDir(filepath.Join(serv.workdir, crashDir))
	if err != nil {
		return err
	}
	for _, name := range files {
		base, numStr, ok := cutLast(name, "_")
		if !ok {
			continue
		}
		num, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if serv.crashes[base] < num {
			serv.crashes[base] = num
		}
	}
	return nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// Serve runs the RPC server on addr. It returns only when the server cannot
// be started.
func (serv *Server) Serve(addr string) error {
	s, err := rpctype.NewRPCServer(addr, "CoverageServer", serv)
	if err != nil {
		return fmt.Errorf("failed to create rpc server: %w", err)
	}
	log.Logf(0, "serving rpc on tcp://%v", s.Addr())
	s.Serve()
	return nil
}

func (serv *Server) Connect(a *rpctype.ConnectArgs, r *rpctype.ConnectRes) error {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	cl := serv.client(a.Client)
	cl.connected = time.Now()
	r.NumSamples = len(serv.samples)
	log.Logf(0, "connect from %v: corpus=%v edges=%v", a.Client, len(serv.samples), serv.coverage.Count())
	return nil
}

// NewCoverage records the reported edges and, when the report carries a sample
// that contributed at least one previously unseen edge, adds the sample to the
// distributed corpus.
func (serv *Server) NewCoverage(a *rpctype.NewCoverageArgs, r *int) error {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	serv.client(a.Client)
	cov := coverage.FromEdges(a.Edges...)
	novel := serv.coverage.Diff(cov)
	if novel.Empty() {
		return nil
	}
	serv.coverage.Merge(novel)
	if err := serv.saveCoverage(); err != nil {
		log.Logf(0, "failed to persist server coverage: %v", err)
	}
	if !a.HasSample {
		log.Logf(1, "new variable coverage from %v: %v edges", a.Client, novel.Count())
		return nil
	}
	sig := hash.Hash(a.Sample)
	if serv.hashes[sig] {
		return nil
	}
	serv.hashes[sig] = true
	seq := uint64(len(serv.samples))
	serv.samples = append(serv.samples, serverSample{from: a.Client, data: a.Sample})
	fname := filepath.Join(serv.workdir, sampleDir, fmt.Sprintf("%v-%v", sig.String(), seq))
	if err := osutil.WriteFile(fname, a.Sample); err != nil {
		log.Logf(0, "failed to persist sample: %v", err)
	}
	log.Logf(1, "new sample from %v: %v bytes, %v new edges", a.Client, len(a.Sample), novel.Count())
	return nil
}

func (serv *Server) NewCrash(a *rpctype.NewCrashArgs, r *int) error {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	serv.client(a.Client)
	name := sanitizeName(a.Name)
	n := serv.crashes[name]
	if n >= maxIdenticalCrashes {
		return nil
	}
	serv.crashes[name] = n + 1
	fname := filepath.Join(serv.workdir, crashDir, fmt.Sprintf("%v_%v", name, n+1))
	if err := osutil.WriteFile(fname, a.Sample); err != nil {
		log.Logf(0, "failed to persist crash: %v", err)
	}
	log.Logf(0, "crash %v from %v (%v/%v)", name, a.Client, n+1, maxIdenticalCrashes)
	return nil
}

// GetUpdates replies with the next batch of samples the client has not pulled
// yet, skipping the ones the client reported itself.
func (serv *Server) GetUpdates(a *rpctype.GetUpdatesArgs, r *rpctype.GetUpdatesRes) error {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	cl := serv.client(a.Client)
	for cl.cursor < len(serv.samples) && len(r.Samples) < maxUpdateBatch {
		s := serv.samples[cl.cursor]
		cl.cursor++
		if s.from == a.Client {
			continue
		}
		r.Samples = append(r.Samples, s.data)
	}
	log.Logf(1, "updates for %v: %v samples, %v remaining, %v execs",
		a.Client, len(r.Samples), len(serv.samples)-cl.cursor, a.TotalExecs)
	return nil
}

func (serv *Server) client(name string) *clientState {
	cl := serv.clients[name]
	if cl == nil {
		cl = new(clientState)
		serv.clients[name] = cl
	}
	return cl
}

func (serv *Server) saveCoverage() error {
	f, err := os.Create(filepath.Join(serv.workdir, coverageFil))
	if err != nil {
		return err
	}
	defer f.Close()
	return serv.coverage.WriteTo(f)
}

func sanitizeName(name string) string {
	res := []byte(name)
	for i, ch := range res {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '_', ch == '-', ch == '.':
		default:
			res[i] = '_'
		}
	}
	const maxNameLen = 128
	if len(res) > maxNameLen {
		res = res[:maxNameLen]
	}
	return string(res)
}
