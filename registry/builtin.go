package registry

import "github.com/hupe1980/meshos/core"

// BuiltInProfiles returns the seed catalog registered by
// InitializeBuiltInAgents. The slice is freshly allocated on each call.
func BuiltInProfiles() []core.AgentProfile {
	return []core.AgentProfile{
		{
			Name:         "strategist",
			Role:         core.RoleStrategist,
			Description:  "Plans release and campaign strategy across systems.",
			Capabilities: []string{"planning", "prioritization", "campaign_strategy"},
			Collaboration: core.Collaboration{
				PairsWellWith: []string{core.AllAgents},
				Avoids:        []string{},
			},
		},
		{
			Name:         "coach",
			Role:         core.RoleCoach,
			Description:  "Turns mesh insights into coaching suggestions.",
			Capabilities: []string{"coaching", "goal_tracking", "feedback"},
			Collaboration: core.Collaboration{
				PairsWellWith: []string{"strategist", "analyst", "creative"},
				Avoids:        []string{},
			},
		},
		{
			Name:         "analyst",
			Role:         core.RoleAnalyst,
			Description:  "Reads campaign and audience metrics and reports trends.",
			Capabilities: []string{"metrics", "trend_detection", "reporting"},
			Collaboration: core.Collaboration{
				PairsWellWith: []string{core.AllAgents},
				Avoids:        []string{},
			},
		},
		{
			Name:         "explorer",
			Role:         core.RoleExplorer,
			Description:  "Scouts scenes, contacts and graph neighbourhoods for opportunities.",
			Capabilities: []string{"discovery", "scene_mapping", "graph_search"},
			Collaboration: core.Collaboration{
				PairsWellWith: []string{"strategist", "analyst"},
				Avoids:        []string{},
			},
		},
		{
			Name:         "creative",
			Role:         core.RoleCreative,
			Description:  "Drafts creative briefs and asset ideas.",
			Capabilities: []string{"copywriting", "asset_briefs", "visual_direction"},
			Collaboration: core.Collaboration{
				PairsWellWith: []string{"strategist", "producer", "coach"},
				Avoids:        []string{"guardian"},
			},
		},
		{
			Name:         "producer",
			Role:         core.RoleProducer,
			Description:  "Sequences deliverables and schedules.",
			Capabilities: []string{"scheduling", "resource_planning"},
			Collaboration: core.Collaboration{
				PairsWellWith: []string{"creative", "strategist"},
				Avoids:        []string{},
			},
		},
		{
			Name:         "guardian",
			Role:         core.RoleGuardian,
			Description:  "Reviews proposed actions for risk before they are routed.",
			Capabilities: []string{"risk_review", "compliance"},
			Collaboration: core.Collaboration{
				PairsWellWith: []string{core.AllAgents},
				Avoids:        []string{},
			},
		},
	}
}
