package config

import "testing"

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Master.ListenAddr != ":9421" {
		t.Errorf("expected default master listen addr, got %q", cfg.Master.ListenAddr)
	}
	if cfg.Chunkserver.Workers != 4 {
		t.Errorf("expected default worker count 4, got %d", cfg.Chunkserver.Workers)
	}
}

func TestToMasterConfigConvertsGoalsAndDurations(t *testing.T) {
	cfg := Default()
	cfg.Master.Goals = map[string]int{"triple": 3}
	cfg.Master.ChunksLoopPeriodSeconds = 60

	mc := cfg.ToMasterConfig()
	g, ok := mc.Goals["triple"]
	if !ok {
		t.Fatal("expected \"triple\" goal to survive conversion")
	}
	if g.RequiredParts() != 3 {
		t.Errorf("expected 3 required parts, got %d", g.RequiredParts())
	}
	if mc.Worker.ChunksLoopPeriod.Seconds() != 60 {
		t.Errorf("expected 60s loop period, got %v", mc.Worker.ChunksLoopPeriod)
	}
}
