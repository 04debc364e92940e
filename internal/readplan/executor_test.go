package readplan

import (
	"errors"
	"hash/crc32"
	"testing"
	"time"

	"github.com/lizardfs/lizardfs-sub006/protocol"
	"github.com/lizardfs/lizardfs-sub006/types"
)

type event struct {
	data   *protocol.ReadData
	status *protocol.ReadStatus
	err    error
}

type scriptConn struct {
	events []event
	idx    int
}

func (c *scriptConn) Send(protocol.Read) error { return nil }

func (c *scriptConn) Recv() (*protocol.ReadData, *protocol.ReadStatus, error) {
	if c.idx >= len(c.events) {
		return nil, nil, errors.New("scriptConn: no more scripted events")
	}
	e := c.events[c.idx]
	c.idx++
	return e.data, e.status, e.err
}

func (c *scriptConn) Close() error { return nil }

func dataEvent(chunkID types.ChunkId, offset uint32, payload []byte) event {
	return event{data: &protocol.ReadData{
		ChunkId: chunkID,
		Offset:  offset,
		Size:    uint32(len(payload)),
		CRC:     crc32.ChecksumIEEE(payload),
		Data:    payload,
	}}
}

func okStatus(chunkID types.ChunkId) event {
	return event{status: &protocol.ReadStatus{ChunkId: chunkID, Status: protocol.StatusOK}}
}

func TestExecuteWave0Success(t *testing.T) {
	slice := types.XOR(2)
	block0 := []byte("aaaaaaaa")
	block1 := []byte("bbbbbbbb")

	plan := Plan{
		Slice:         slice,
		ChunkId:       1,
		RequestOffset: 0,
		RequestSize:   uint32(len(block0)),
		Sources: map[int][]WaveSource{
			0: {{Server: 10, Wave: 0}},
			1: {{Server: 11, Wave: 0}},
		},
	}

	dial := func(src WaveSource) (SourceConn, error) {
		switch src.Server {
		case 10:
			return &scriptConn{events: []event{dataEvent(1, 0, block0), okStatus(1)}}, nil
		case 11:
			return &scriptConn{events: []event{dataEvent(1, 0, block1), okStatus(1)}}, nil
		}
		return nil, errors.New("unknown server")
	}

	var exec Executor
	out, err := exec.Execute(plan, dial, time.Second, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(block0)+string(block1) {
		t.Errorf("unexpected reconstructed output: %q", out)
	}
	counters := exec.Counters()
	if counters.Executions != 1 {
		t.Errorf("expected 1 execution, got %d", counters.Executions)
	}
	if counters.ExecutionsBeyondWave0 != 0 {
		t.Errorf("wave-0-only execution should not count as beyond wave 0")
	}
}

func TestExecuteFailsOverToWave1(t *testing.T) {
	slice := types.XOR(2)
	block0 := []byte("aaaaaaaa")
	block1 := []byte("bbbbbbbb")

	plan := Plan{
		Slice:         slice,
		ChunkId:       1,
		RequestOffset: 0,
		RequestSize:   uint32(len(block0)),
		Sources: map[int][]WaveSource{
			0: {{Server: 10, Wave: 0}},
			1: {{Server: 11, Wave: 0}, {Server: 21, Wave: 1}},
		},
	}

	dial := func(src WaveSource) (SourceConn, error) {
		switch src.Server {
		case 10:
			return &scriptConn{events: []event{dataEvent(1, 0, block0), okStatus(1)}}, nil
		case 11:
			// wave-0 source for part 1 errors immediately.
			return &scriptConn{events: []event{{err: errors.New("connection reset")}}}, nil
		case 21:
			return &scriptConn{events: []event{dataEvent(1, 0, block1), okStatus(1)}}, nil
		}
		return nil, errors.New("unknown server")
	}

	var exec Executor
	out, err := exec.Execute(plan, dial, 200*time.Millisecond, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(block0)+string(block1) {
		t.Errorf("unexpected reconstructed output after wave failover: %q", out)
	}
	counters := exec.Counters()
	if counters.ExecutionsBeyondWave0 != 1 {
		t.Errorf("expected the failover execution to count as beyond wave 0, got %d", counters.ExecutionsBeyondWave0)
	}
	if counters.ExecutionsRescued != 1 {
		t.Errorf("expected the failover execution to count as rescued, got %d", counters.ExecutionsRescued)
	}
}

func TestExecuteCRCMismatchFailsThatSource(t *testing.T) {
	slice := types.XOR(2)
	block0 := []byte("aaaaaaaa")

	plan := Plan{
		Slice:         slice,
		ChunkId:       1,
		RequestOffset: 0,
		RequestSize:   uint32(len(block0)),
		Sources: map[int][]WaveSource{
			0: {{Server: 10, Wave: 0}},
		},
	}

	corrupt := &protocol.ReadData{ChunkId: 1, Offset: 0, Size: uint32(len(block0)), CRC: 0xdeadbeef, Data: block0}
	dial := func(WaveSource) (SourceConn, error) {
		return &scriptConn{events: []event{{data: corrupt}}}, nil
	}

	var exec Executor
	_, err := exec.Execute(plan, dial, 200*time.Millisecond, time.Second)
	if err != ErrPlanExhausted {
		t.Errorf("expected ErrPlanExhausted after the only source's CRC failed, got %v", err)
	}
}
