// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covserver

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/rpctype"
	"github.com/google/jackalope/pkg/sample"
)

// Client connects one fuzzer to the coverage server. The fuzzer engine
// serializes all calls, Client is not thread-safe.
type Client struct {
	// Client identity is ephemeral, a restarted fuzzer re-downloads the server
	// corpus and refills its coverage from local state.
	id string
	c  *rpctype.RPCClient
}

func NewClient(addr string) (*Client, error) {
	c, err := rpctype.NewRPCClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coverage server %v: %w", addr, err)
	}
	cli := &Client{
		id: uuid.NewString(),
		c:  c,
	}
	res := new(rpctype.ConnectRes)
	if err := c.Call("CoverageServer.Connect", &rpctype.ConnectArgs{Client: cli.id}, res); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to coverage server %v: %w", addr, err)
	}
	log.Logf(0, "connected to coverage server %v, server corpus has %v samples", addr, res.NumSamples)
	return cli, nil
}

// ReportNewCoverage uploads the edges, attaching the sample that reproduces
// them. s is nil for variable coverage.
func (cli *Client) ReportNewCoverage(cov coverage.Coverage, s *sample.Sample) error {
	a := &rpctype.NewCoverageArgs{
		Client: cli.id,
		Edges:  cov.Edges(),
	}
	if s != nil {
		a.Sample = s.Data
		a.HasSample = true
	}
	return cli.c.Call("CoverageServer.NewCoverage", a, new(int))
}

func (cli *Client) ReportCrash(s *sample.Sample, name string) error {
	a := &rpctype.NewCrashArgs{
		Client: cli.id,
		Name:   name,
		Sample: s.Data,
	}
	return cli.c.Call("CoverageServer.NewCrash", a, new(int))
}

func (cli *Client) GetUpdates(totalExecs uint64) ([]*sample.Sample, error) {
	a := &rpctype.GetUpdatesArgs{
		Client:     cli.id,
		TotalExecs: totalExecs,
	}
	res := new(rpctype.GetUpdatesRes)
	if err := cli.c.Call("CoverageServer.GetUpdates", a, res); err != nil {
		return nil, err
	}
	samples := make([]*sample.Sample, 0, len(res.Samples))
	for _, data := range res.Samples {
		samples = append(samples, sample.FromData(data))
	}
	return samples, nil
}

func (cli *Client) Close() {
	cli.c.Close()
}
