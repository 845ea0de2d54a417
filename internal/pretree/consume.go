package pretree

import (
	"fmt"

	"github.com/decision-forest/internal/forest"
	"github.com/decision-forest/internal/leaf"
	"github.com/decision-forest/internal/sample"
)

// Consume compacts the finished pre-tree into a packed forest tree and,
// when wantLeaves is set, the leaf state for quantile estimation and leaf
// exports. Leaf scores are the mean bagged response for regression; for
// classification, the argmax category plus a jitter proportional to the
// category's probability, which downstream vote counting uses to break
// ties stably.
func (pt *PreTree) Consume(smp *sample.Sampled, nPred, nCtg int, wantLeaves bool) (*forest.Tree, *leaf.TreeLeaves) {
	nNode := len(pt.nodes)

	sum := make([]float64, nNode)
	sCount := make([]int, nNode)
	extent := make([]int, nNode)
	var votes [][]float64
	if nCtg > 0 {
		votes = make([][]float64, nNode)
	}
	var leafSamples [][]int32
	if wantLeaves {
		leafSamples = make([][]int32, nNode)
	}

	for sIdx, ptId := range pt.Sample2PT {
		if pt.nodes[ptId].LhID != Terminal {
			panic(fmt.Sprintf("pretree: sample %d rests at nonterminal %d", sIdx, ptId))
		}
		nux := smp.Nux[sIdx]
		sum[ptId] += nux.YSum
		sCount[ptId] += nux.SCount
		extent[ptId]++
		if nCtg > 0 {
			if votes[ptId] == nil {
				votes[ptId] = make([]float64, nCtg)
			}
			votes[ptId][nux.Ctg] += float64(nux.SCount)
		}
		if wantLeaves {
			leafSamples[ptId] = append(leafSamples[ptId], int32(sIdx))
		}
	}

	tree := &forest.Tree{
		Pred:     make([]int32, nNode),
		Split:    make([]float64, nNode),
		Score:    make([]float64, nNode),
		Bump:     make([]int32, nNode),
		PredInfo: make([]float64, nPred),
	}
	tree.FacWords = nil
	pt.ConsumeBits(&tree.FacWords)
	tree.BagWords = append([]uint64(nil), smp.Bag.Words()...)

	var leaves *leaf.TreeLeaves
	if wantLeaves {
		leaves = &leaf.TreeLeaves{
			LeafPos:    make([]int32, nNode),
			LeafExtent: make([]int32, nNode),
		}
	}

	for id := range pt.nodes {
		n := &pt.nodes[id]
		if n.LhID != Terminal {
			tree.Pred[id] = int32(n.PredIdx)
			tree.Split[id] = n.SplitVal
			tree.Bump[id] = int32(n.LhID - id)
			tree.PredInfo[n.PredIdx] += n.Info
			if leaves != nil {
				leaves.LeafPos[id] = -1
			}
			continue
		}

		// Terminal: score from the samples resting here. A terminal
		// with no samples cannot arise: every split conserves both
		// sides' extents.
		if nCtg == 0 {
			tree.Score[id] = sum[id] / float64(sCount[id])
		} else {
			tree.Score[id] = ctgScore(votes[id], nCtg)
		}

		if leaves != nil {
			leaves.LeafPos[id] = int32(len(leaves.Rank))
			leaves.LeafExtent[id] = int32(extent[id])
			for _, sIdx := range leafSamples[id] {
				rk := int32(0)
				if smp.S2Rank != nil {
					rk = int32(smp.S2Rank[sIdx])
				}
				leaves.Rank = append(leaves.Rank, rk)
				leaves.RankCount = append(leaves.RankCount, int32(smp.Nux[sIdx].SCount))
			}
		}
	}

	return tree, leaves
}

// ctgScore encodes the winning category in the integer part and its
// probability, scaled to stay below one half, in the fraction.
func ctgScore(votes []float64, nCtg int) float64 {
	argMax := 0
	total := 0.0
	for ctg, v := range votes {
		total += v
		if v > votes[argMax] {
			argMax = ctg
		}
	}
	prob := votes[argMax] / total
	return float64(argMax) + prob/float64(2*nCtg)
}
