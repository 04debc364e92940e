// Package placement implements choose_servers_for_new_chunk (SPEC_FULL.md
// §4.2): picking one server per required goal part from the set of
// currently registered chunkservers.
package placement

import (
	"sort"
	"sync"

	"github.com/NebulousLabs/fastrand"
	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// overflowGuard is the creation-history counter ceiling; crossing it resets
// every server's history rather than letting the weighting degrade.
const overflowGuard = 1_000_000

// ServerInfo is one candidate chunkserver as seen by the placement
// algorithm.
type ServerInfo struct {
	ID      types.CSID
	IP      [4]byte
	Label   string
	Weight  int
	Version types.Version
	Load    float64
}

// Directory supplies the current candidate set; implemented by the
// master's csdb package.
type Directory interface {
	Candidates() []ServerInfo
}

// Chooser implements chunk.PlacementChooser: it sorts candidates by
// relative disk use, applies the avoid-same-ip bucketing, and fills a
// goal's slices greedily by label before padding with any remaining
// servers.
type Chooser struct {
	dir Directory

	mu             sync.Mutex
	history        map[types.CSID]int
	lastCandidates string // cheap fingerprint to detect "set or labels/weights changed"
	AvoidSameIP    bool
}

// NewChooser builds a Chooser backed by dir.
func NewChooser(dir Directory) *Chooser {
	return &Chooser{dir: dir, history: make(map[types.CSID]int)}
}

func fingerprint(servers []ServerInfo) string {
	var b []byte
	for _, s := range servers {
		b = append(b, byte(s.ID), byte(s.ID>>8), byte(s.Weight))
		b = append(b, s.Label...)
		b = append(b, 0)
	}
	return string(b)
}

func (c *Chooser) maybeResetHistory(servers []ServerInfo) {
	fp := fingerprint(servers)
	if fp != c.lastCandidates {
		c.history = make(map[types.CSID]int)
		c.lastCandidates = fp
		return
	}
	for _, s := range servers {
		if c.history[s.ID] > overflowGuard {
			c.history = make(map[types.CSID]int)
			return
		}
	}
}

// ChooseServersForNewChunk implements chunk.PlacementChooser.
func (c *Chooser) ChooseServersForNewChunk(goal *chunk.Goal, minCSVersion types.Version) (map[types.ChunkPartType]types.CSID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.dir.Candidates()
	c.maybeResetHistory(all)

	var eligible []ServerInfo
	for _, s := range all {
		if s.Version >= minCSVersion {
			eligible = append(eligible, s)
		}
	}
	sorted := sortCandidates(eligible, c.history)
	if c.AvoidSameIP {
		sorted = rebucketByIP(sorted)
	}

	result := make(map[types.ChunkPartType]types.CSID)
	for slice, labelCounts := range goal.Slices {
		picks, err := fillSlice(sorted, labelCounts)
		if err != nil {
			return nil, err
		}
		for idx, srv := range picks {
			result[types.ChunkPartType{Slice: slice, PartIndex: idx}] = srv.ID
			c.history[srv.ID]++
		}
	}
	return result, nil
}

// sortCandidates orders servers by (chunks_created*other.weight, -weight,
// load_factor), the relative-disk-use comparator from §4.2 step 2, breaking
// ties with a random shuffle so equally-loaded servers don't always lose to
// the same neighbour.
func sortCandidates(servers []ServerInfo, history map[types.CSID]int) []ServerInfo {
	out := append([]ServerInfo(nil), servers...)
	// Fisher-Yates shuffle using the teacher's vendored CSPRNG, so that
	// candidates tied on every sort key below don't always resolve in the
	// same order.
	for i := len(out) - 1; i > 0; i-- {
		j := fastrand.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := maxWeight(out[i].Weight), maxWeight(out[j].Weight)
		keyI := float64(history[out[i].ID]) * float64(wj)
		keyJ := float64(history[out[j].ID]) * float64(wi)
		if keyI != keyJ {
			return keyI < keyJ
		}
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Load < out[j].Load
	})
	return out
}

func maxWeight(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}

// rebucketByIP stably re-buckets servers so that servers sharing an IP are
// spread across the output list by occurrence index, rather than clustered
// together (so the first two picks don't land on the same physical host).
func rebucketByIP(servers []ServerInfo) []ServerInfo {
	byIP := make(map[[4]byte][]ServerInfo)
	var ipOrder [][4]byte
	for _, s := range servers {
		if _, ok := byIP[s.IP]; !ok {
			ipOrder = append(ipOrder, s.IP)
		}
		byIP[s.IP] = append(byIP[s.IP], s)
	}
	var out []ServerInfo
	for occurrence := 0; ; occurrence++ {
		added := false
		for _, ip := range ipOrder {
			bucket := byIP[ip]
			if occurrence < len(bucket) {
				out = append(out, bucket[occurrence])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return out
}

// fillSlice fills labelCounts' non-wildcard labels greedily from sorted,
// then pads with any remaining servers up to the total required count.
func fillSlice(sorted []ServerInfo, labelCounts chunk.LabelCounts) ([]ServerInfo, error) {
	used := make(map[types.CSID]bool)
	var picks []ServerInfo

	for label, count := range labelCounts {
		if label == "" {
			continue
		}
		got := 0
		for _, s := range sorted {
			if got >= count {
				break
			}
			if used[s.ID] || s.Label != label {
				continue
			}
			picks = append(picks, s)
			used[s.ID] = true
			got++
		}
	}

	required := labelCounts.Total()
	for _, s := range sorted {
		if len(picks) >= required {
			break
		}
		if used[s.ID] {
			continue
		}
		picks = append(picks, s)
		used[s.ID] = true
	}

	if len(picks) < required {
		return nil, chunk.ErrNoChunkServers
	}
	return picks, nil
}
