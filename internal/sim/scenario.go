// Package sim generates synthetic visitor traffic for demos and load
// exercises against a running API.
package sim

import (
	"fmt"
	"math/rand"
	"time"
)

type Site struct {
	OrgNodeID string
	Label     string
	Levels    []int
}

// Visit is one synthetic guest arrival: an invitation to create and the
// verification path it should take.
type Visit struct {
	GuestName     string
	EmployeeName  string
	SecurityLevel int
	OrgNodeID     string
	Narrative     string
}

type Scenario struct {
	Name       string
	Sites      []Site
	Guests     []string
	Employees  []string
	Narratives []string
}

func BusinessCampusScenario() Scenario {
	return Scenario{
		Name: "BusinessCampusMorning",
		Sites: []Site{
			{OrgNodeID: "org-hq", Label: "Headquarters Lobby", Levels: []int{1, 2}},
			{OrgNodeID: "org-tower-a", Label: "Tower A Reception", Levels: []int{2, 3}},
			{OrgNodeID: "org-floor-12", Label: "Floor 12 Secure Wing", Levels: []int{3, 4}},
		},
		Guests: []string{
			"Aigerim Nurlanova", "Daniel Park", "Olga Sereda",
			"Marcus Webb", "Leila Akhmetova", "Tomas Richter",
		},
		Employees: []string{
			"Askar Bekov", "Nina Petrova", "Jonas Lindqvist",
		},
		Narratives: []string{
			"Morning contractor intake before the daily standup",
			"Vendor delivery routed through reception",
			"Escorted interview loop on a restricted floor",
		},
	}
}

type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
	seq      int
}

func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{scenario: BusinessCampusScenario(), rnd: rand.New(rand.NewSource(seed))}
}

func (g *Generator) NextVisit() Visit {
	site := g.scenario.Sites[g.rnd.Intn(len(g.scenario.Sites))]
	g.seq++
	return Visit{
		GuestName:     fmt.Sprintf("%s #%d", g.scenario.Guests[g.rnd.Intn(len(g.scenario.Guests))], g.seq),
		EmployeeName:  g.scenario.Employees[g.rnd.Intn(len(g.scenario.Employees))],
		SecurityLevel: site.Levels[g.rnd.Intn(len(site.Levels))],
		OrgNodeID:     site.OrgNodeID,
		Narrative:     g.scenario.Narratives[g.rnd.Intn(len(g.scenario.Narratives))],
	}
}

func (g *Generator) Sites() []Site {
	return append([]Site(nil), g.scenario.Sites...)
}

func (g *Generator) OverrideSites(sites []Site) {
	g.scenario.Sites = append([]Site(nil), sites...)
}
