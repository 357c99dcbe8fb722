// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// jack-fuzzer is the fuzzing frontend. It drives an instrumented target with
// mutated samples and collects interesting ones:
//
//	jack-fuzzer -in corpus -out workdir -nthreads 4 -t 1000 -- ./target @@
//
// With -start_server it runs as the coverage server instead and exchanges
// coverage and samples between fuzzer instances.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/google/jackalope/pkg/covserver"
	"github.com/google/jackalope/pkg/fuzzer"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/stat"
)

var (
	flagIn            = flag.String("in", "", "input corpus directory, or - to restore a previous session")
	flagOut           = flag.String("out", "", "output directory")
	flagNumThreads    = flag.Int("nthreads", 1, "number of fuzzing threads")
	flagTimeout       = flag.Int("t", 0x7fffffff, "per-execution timeout (ms)")
	flagInitTimeout   = flag.Int("t1", 0, "timeout for the first execution of a target instance (ms, defaults to -t)")
	flagCorpusTimeout = flag.Int("t_corpus", 0, "timeout during corpus ingestion (ms, defaults to -t)")
	flagServer        = flag.String("server", "", "coverage server address (host:port)")
	flagStartServer   = flag.Bool("start_server", false, "run as the coverage server instead of fuzzing")
	flagRestore       = flag.Bool("restore", false, "restore the session from <out>/state.dat")
	flagResume        = flag.Bool("resume", false, "same as -restore")
	flagDelivery      = flag.String("delivery", "file", "sample delivery mechanism (file/shmem)")
	flagSaveHangs     = flag.Bool("save_hangs", false, "save hanging samples to <out>/hangs")
	flagHTTP          = flag.String("http", "", "serve stats and prometheus metrics on this address")
)

func main() {
	flag.Usage = usage
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		os.Exit(0)
	}
	log.EnableLogCaching(1000, 1<<20)

	if *flagStartServer {
		runServer()
		return
	}
	if *flagIn == "" || *flagOut == "" {
		usage()
		os.Exit(0)
	}

	var server fuzzer.Server
	if *flagServer != "" {
		client, err := covserver.NewClient(*flagServer)
		if err != nil {
			log.Fatal(err)
		}
		server = client
	}

	cfg := &fuzzer.Config{
		TargetArgs:      flag.Args(),
		InputDir:        *flagIn,
		OutputDir:       *flagOut,
		NumThreads:      *flagNumThreads,
		TimeoutMs:       uint32(*flagTimeout),
		InitTimeoutMs:   uint32(*flagInitTimeout),
		CorpusTimeoutMs: uint32(*flagCorpusTimeout),
		DeliveryType:    *flagDelivery,
		SaveHangs:       *flagSaveHangs,
		Restore:         *flagIn == "-" || *flagRestore || *flagResume,
		Server:          server,
	}
	if len(cfg.TargetArgs) == 0 {
		usage()
		os.Exit(0)
	}

	fuzz, err := fuzzer.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if *flagHTTP != "" {
		serveHTTP(*flagHTTP)
	}
	fuzz.Run()
}

func runServer() {
	if *flagOut == "" || *flagServer == "" {
		usage()
		os.Exit(0)
	}
	serv, err := covserver.Make(*flagOut)
	if err != nil {
		log.Fatal(err)
	}
	if *flagHTTP != "" {
		serveHTTP(*flagHTTP)
	}
	go statusLoop()
	if err := serv.Serve(*flagServer); err != nil {
		log.Fatal(err)
	}
}

func statusLoop() {
	for range time.NewTicker(10 * time.Second).C {
		line := ""
		for _, s := range stat.Collect(stat.Console) {
			line += fmt.Sprintf("%v %v, ", s.Name, s.Value)
		}
		log.Logf(0, "%v", line)
	}
}

func serveHTTP(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", httpStats)
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	go func() {
		log.Logf(0, "serving http on http://%v", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("failed to serve http: %v", err)
		}
	}()
}

func httpStats(w http.ResponseWriter, r *http.Request) {
	for _, s := range stat.Collect(stat.All) {
		fmt.Fprintf(w, "%-24v %v\n", s.Name, s.Value)
	}
	fmt.Fprintf(w, "\nLog:\n%v", log.CachedLogOutput())
}

func usage() {
	fmt.Printf("usage: jack-fuzzer -in <dir|-> -out <dir> [options] -- <target> [target args]\n" +
		"use @@ in target args as the placeholder for the sample location\n")
	flag.PrintDefaults()
}
