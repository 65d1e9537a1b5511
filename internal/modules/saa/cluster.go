package saa

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LiquidityCluster is the reserved cluster name for the cash sleeve.
// Exactly one asset class must carry it; the cluster model rejects
// datasets with zero or multiple liquidity assets.
const LiquidityCluster = "Liquidity"

// Floor applied to cluster market weights before renormalization so a
// zero-weight cluster cannot zero out a whole column of the problem.
const clusterWeightFloor = 1e-4

// ClusterModel holds the asset→cluster transformation used by the
// equilibrium layer. Optimization runs over cluster weights; the Omega
// matrix maps them back to asset weights using within-cluster market
// proportions.
type ClusterModel struct {
	Assets        []string
	MarketWeights []float64

	// ClusterNames in first-seen asset order.
	ClusterNames []string
	// Omega is n_assets x n_clusters; column j distributes cluster j's
	// weight across its member assets.
	Omega *mat.Dense
	// Pi is the cluster-level covariance Ωᵀ Σ Ω.
	Pi *mat.SymDense
	// ClusterMarketWeights are floored and renormalized to sum to 1.
	ClusterMarketWeights []float64

	LiquidityClusterIndex int
	LiquidityAssetIndex   int

	clusterIndices map[string][]int
}

// NewClusterModel builds the transformation matrices for cluster-space
// optimization against the given covariance matrix.
func NewClusterModel(
	assets []string,
	clusters map[string]string,
	marketWeights []float64,
	cov *mat.SymDense,
) (*ClusterModel, error) {
	n := len(assets)
	if n == 0 {
		return nil, fmt.Errorf("no assets provided")
	}
	if len(marketWeights) != n {
		return nil, fmt.Errorf("market weights length %d does not match %d assets", len(marketWeights), n)
	}
	if cov.SymmetricDim() != n {
		return nil, fmt.Errorf("covariance is %dx%d, expected %dx%d", cov.SymmetricDim(), cov.SymmetricDim(), n, n)
	}

	m := &ClusterModel{
		Assets:                assets,
		MarketWeights:         marketWeights,
		LiquidityClusterIndex: -1,
		LiquidityAssetIndex:   -1,
		clusterIndices:        make(map[string][]int),
	}

	clusterPos := make(map[string]int)
	for i, asset := range assets {
		cluster, ok := clusters[asset]
		if !ok {
			return nil, fmt.Errorf("asset %q has no cluster assignment", asset)
		}
		if _, known := clusterPos[cluster]; !known {
			clusterPos[cluster] = len(m.ClusterNames)
			m.ClusterNames = append(m.ClusterNames, cluster)
		}
		m.clusterIndices[cluster] = append(m.clusterIndices[cluster], i)
	}

	liqAssets := m.clusterIndices[LiquidityCluster]
	if len(liqAssets) != 1 {
		return nil, fmt.Errorf("expected exactly one %q asset, found %d", LiquidityCluster, len(liqAssets))
	}
	m.LiquidityAssetIndex = liqAssets[0]
	m.LiquidityClusterIndex = clusterPos[LiquidityCluster]

	k := len(m.ClusterNames)

	// Omega: within-cluster market proportions; equal split when the
	// cluster carries no market weight.
	m.Omega = mat.NewDense(n, k, nil)
	for j, cluster := range m.ClusterNames {
		members := m.clusterIndices[cluster]
		clusterSum := 0.0
		for _, i := range members {
			clusterSum += marketWeights[i]
		}
		for _, i := range members {
			if clusterSum > 0 {
				m.Omega.Set(i, j, marketWeights[i]/clusterSum)
			} else {
				m.Omega.Set(i, j, 1.0/float64(len(members)))
			}
		}
	}

	// Pi = Ωᵀ Σ Ω.
	var sigmaOmega, pi mat.Dense
	sigmaOmega.Mul(cov, m.Omega)
	pi.Mul(m.Omega.T(), &sigmaOmega)
	m.Pi = mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			m.Pi.SetSym(i, j, 0.5*(pi.At(i, j)+pi.At(j, i)))
		}
	}

	m.ClusterMarketWeights = make([]float64, k)
	total := 0.0
	for j, cluster := range m.ClusterNames {
		sum := 0.0
		for _, i := range m.clusterIndices[cluster] {
			sum += marketWeights[i]
		}
		if sum < clusterWeightFloor {
			sum = clusterWeightFloor
		}
		m.ClusterMarketWeights[j] = sum
		total += sum
	}
	for j := range m.ClusterMarketWeights {
		m.ClusterMarketWeights[j] /= total
	}

	return m, nil
}

// NumClusters returns the number of clusters.
func (m *ClusterModel) NumClusters() int { return len(m.ClusterNames) }

// ClusterIndices returns the asset indices of a cluster.
func (m *ClusterModel) ClusterIndices(cluster string) []int {
	return m.clusterIndices[cluster]
}

// AssetWeights maps cluster weights back to asset space: w = Ω ŵ.
func (m *ClusterModel) AssetWeights(clusterWeights []float64) []float64 {
	n := len(m.Assets)
	out := make([]float64, n)
	v := mat.NewVecDense(len(clusterWeights), clusterWeights)
	var w mat.VecDense
	w.MulVec(m.Omega, v)
	for i := 0; i < n; i++ {
		out[i] = w.AtVec(i)
	}
	return out
}

// ClusterWeightsOf aggregates asset weights per cluster.
func (m *ClusterModel) ClusterWeightsOf(assetWeights []float64) map[string]float64 {
	out := make(map[string]float64, len(m.ClusterNames))
	for _, cluster := range m.ClusterNames {
		sum := 0.0
		for _, i := range m.clusterIndices[cluster] {
			sum += assetWeights[i]
		}
		out[cluster] = sum
	}
	return out
}
