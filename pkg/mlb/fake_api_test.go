package mlb

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeGame struct {
	id        int
	home      string
	away      string
	homeScore int
	awayScore int
	duration  string
	venue     string
}

// fakeStatsAPI 内存中的stats API，按球队返回赛程
type fakeStatsAPI struct {
	mu       sync.Mutex
	schedule map[int][]fakeGame // teamID -> games
	teams    []Team

	scheduleFailures int32         // 前N次赛程请求返回该状态码
	scheduleStatus   int           // 默认503
	scheduleDelay    time.Duration // 赛程请求延迟（用于超时）
	slowCalls        int32         // >0时仅前N次赛程请求延迟
	scheduleCalls    int32
	boxscoreCalls    int32
	lastQuery        string
}

func newFakeStatsAPI() *fakeStatsAPI {
	return &fakeStatsAPI{
		schedule: make(map[int][]fakeGame),
		teams: []Team{
			{ID: 143, Name: "Philadelphia Phillies", TeamName: "Phillies", Abbreviation: "PHI", LocationName: "Philadelphia"},
			{ID: 146, Name: "Miami Marlins", TeamName: "Marlins", Abbreviation: "MIA", LocationName: "Miami"},
		},
	}
}

// addGames 为球队生成n场比赛，ID从base开始
func (f *fakeStatsAPI) addGames(teamID, base, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.schedule[teamID] = append(f.schedule[teamID], fakeGame{
			id:        base + i,
			home:      "Phillies",
			away:      fmt.Sprintf("Opponent %d", i),
			homeScore: 3 + i,
			awayScore: 2,
			duration:  fmt.Sprintf("2:%02d", 40+i*5),
			venue:     "Citizens Bank Park",
		})
	}
}

func (f *fakeStatsAPI) findGame(id int) (fakeGame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, games := range f.schedule {
		for _, g := range games {
			if g.id == id {
				return g, true
			}
		}
	}
	return fakeGame{}, false
}

func (f *fakeStatsAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeStatsAPI) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/teams":
		writeJSON(w, map[string]any{"teams": f.teams})

	case path == "/api/v1/schedule":
		n := atomic.AddInt32(&f.scheduleCalls, 1)
		f.mu.Lock()
		f.lastQuery = r.URL.RawQuery
		f.mu.Unlock()
		slow := atomic.LoadInt32(&f.slowCalls)
		if f.scheduleDelay > 0 && (slow == 0 || n <= slow) {
			select {
			case <-time.After(f.scheduleDelay):
			case <-r.Context().Done():
				return
			}
		}
		if n <= atomic.LoadInt32(&f.scheduleFailures) {
			status := f.scheduleStatus
			if status == 0 {
				status = http.StatusServiceUnavailable
			}
			w.WriteHeader(status)
			return
		}
		teamID, _ := strconv.Atoi(r.URL.Query().Get("teamId"))
		f.mu.Lock()
		games := f.schedule[teamID]
		f.mu.Unlock()
		var list []map[string]any
		for _, g := range games {
			list = append(list, map[string]any{"gamePk": g.id})
		}
		writeJSON(w, map[string]any{"dates": []any{map[string]any{"games": list}}})

	case strings.HasSuffix(path, "/boxscore"):
		atomic.AddInt32(&f.boxscoreCalls, 1)
		g, ok := f.gameFromPath(path, "/api/v1/game/", "/boxscore")
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{
			"teams": map[string]any{
				"home": map[string]any{
					"team":      map[string]any{"id": 143, "name": "Philadelphia " + g.home, "teamName": g.home},
					"teamStats": map[string]any{"batting": map[string]any{"runs": g.homeScore}},
					"batters":   []int{1001, 1002},
					"pitchers":  []int{1003},
					"players": map[string]any{
						"ID1001": fakeBatter(1001, "Kyle Schwarber", "DH", "100", 4, 2, ".262", ".851"),
						"ID1002": fakeBatter(1002, "Bryce Harper", "1B", "300", 3, 1, ".285", ".898"),
						"ID1003": fakePitcher(1003, "Zack Wheeler", "(W, 9-3)", "7.0", 98, "2.84"),
					},
				},
				"away": map[string]any{
					"team":      map[string]any{"id": 999, "teamName": g.away},
					"teamStats": map[string]any{"batting": map[string]any{"runs": g.awayScore}},
					"batters":   []int{2001},
					"pitchers":  []int{2002, 2003, 2999},
					"players": map[string]any{
						"ID2001": fakeBatter(2001, "Visiting Leadoff", "CF", "100", 4, 0, "-.--", "-.--"),
						"ID2002": fakePitcher(2002, "Visiting Starter", "(L, 4-6)", "5.1", 91, "4.50"),
						"ID2003": fakePitcher(2003, "Visiting Reliever", "", "2.2", 30, "-.--"),
					},
				},
			},
			"info": []any{
				map[string]any{"label": "WP", "value": "Someone."},
				map[string]any{"label": "T", "value": g.duration + "."},
			},
		})

	case strings.HasSuffix(path, "/feed/live"):
		g, ok := f.gameFromPath(path, "/api/v1.1/game/", "/feed/live")
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{
			"gameData": map[string]any{
				"venue": map[string]any{
					"id":   2681,
					"name": g.venue,
					"location": map[string]any{
						"city":       "Philadelphia",
						"state":      "Pennsylvania",
						"postalCode": "19148",
						"country":    "USA",
						"elevation":  20,
						"defaultCoordinates": map[string]any{
							"latitude":  39.90539086,
							"longitude": -75.16716957,
						},
					},
				},
			},
		})

	default:
		http.NotFound(w, r)
	}
}

func fakeBatter(id int, name, pos, order string, ab, hits int, avg, ops string) map[string]any {
	return map[string]any{
		"person":       map[string]any{"id": id, "fullName": name},
		"position":     map[string]any{"abbreviation": pos},
		"battingOrder": order,
		"stats": map[string]any{"batting": map[string]any{
			"atBats": ab, "runs": 1, "hits": hits, "doubles": 1, "homeRuns": 0, "rbi": 1,
			"baseOnBalls": 1, "strikeOuts": 1, "leftOnBase": 2,
		}},
		"seasonStats": map[string]any{"batting": map[string]any{"avg": avg, "obp": ".350", "slg": ".500", "ops": ops}},
	}
}

func fakePitcher(id int, name, note, ip string, pitches int, era string) map[string]any {
	return map[string]any{
		"person":   map[string]any{"id": id, "fullName": name},
		"position": map[string]any{"abbreviation": "P"},
		"stats": map[string]any{"pitching": map[string]any{
			"note": note, "inningsPitched": ip, "hits": 5, "runs": 2, "earnedRuns": 2,
			"baseOnBalls": 1, "strikeOuts": 8, "homeRuns": 1, "numberOfPitches": pitches, "strikes": pitches * 2 / 3,
		}},
		"seasonStats": map[string]any{"pitching": map[string]any{"era": era}},
	}
}

// fakeElevationAPI 按坐标返回海拔，未知坐标返回404
type fakeElevationAPI struct {
	mu         sync.Mutex
	elevations map[string]float64
	calls      int32
}

func newFakeElevationAPI() *fakeElevationAPI {
	return &fakeElevationAPI{elevations: map[string]float64{
		"39.90539086,-75.16716957": 20,
		"25.77796236,-80.21951795": 3,
	}}
}

func (f *fakeElevationAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/elevation" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&f.calls, 1)
		key := r.URL.Query().Get("latitude") + "," + r.URL.Query().Get("longitude")
		f.mu.Lock()
		elevation, ok := f.elevations[key]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"elevation": []float64{elevation}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeStatsAPI) gameFromPath(path, prefix, suffix string) (fakeGame, bool) {
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix))
	if err != nil {
		return fakeGame{}, false
	}
	return f.findGame(id)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
