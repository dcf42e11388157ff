package loadbalance

import (
	"math/rand/v2"

	"github.com/naveego/live-go/registry"
)

type WeightedRandomBalancer struct{}

// Pick chooses a peer with probability proportional to its weight. Peers with
// a weight of zero or less only get picked when no peer has a positive weight.
func (b *WeightedRandomBalancer) Pick(instances []registry.PeerInstance) (*registry.PeerInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	// 计算总权重
	totalWeight := 0
	for _, v := range instances {
		if v.Weight > 0 {
			totalWeight += v.Weight
		}
	}
	if totalWeight == 0 {
		return &instances[rand.IntN(len(instances))], nil
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.IntN(totalWeight)
	for i := range instances {
		if instances[i].Weight <= 0 {
			continue
		}
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, ErrNoInstances
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
