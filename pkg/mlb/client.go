package mlb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LENAX/statflow/pkg/core/task"
)

// StatsClient 比赛数据API（对外导出）
// 返回的错误已分类：网络/超时/5xx 为 TransientTaskError，4xx/响应格式错误为 PermanentTaskError
type StatsClient interface {
	LookupTeam(ctx context.Context, name string) ([]Team, error)
	Schedule(ctx context.Context, teamID int, startDate, endDate string) ([]int, error)
	Boxscore(ctx context.Context, gameID int) (*Boxscore, error)
	PlayerBoxscore(ctx context.Context, gameID int) (*PlayerBoxscore, error)
	GameLocation(ctx context.Context, gameID int) (*GameLocation, error)
}

// ElevationClient 坐标海拔查询（对外导出）
type ElevationClient interface {
	Elevation(ctx context.Context, latitude, longitude float64) (float64, error)
}

// jsonAPI GET请求并按状态码分类错误
type jsonAPI struct {
	name    string
	baseURL string
	client  *http.Client
}

func newJSONAPI(name, baseURL string, timeout time.Duration) jsonAPI {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return jsonAPI{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// HTTPStatsClient 基于 statsapi.mlb.com 的实现
type HTTPStatsClient struct {
	jsonAPI
}

// NewHTTPStatsClient 创建API客户端
func NewHTTPStatsClient(baseURL string, timeout time.Duration) *HTTPStatsClient {
	return &HTTPStatsClient{jsonAPI: newJSONAPI("stats API", baseURL, timeout)}
}

// HTTPElevationClient 基于 open-meteo 海拔接口的实现
type HTTPElevationClient struct {
	jsonAPI
}

// NewHTTPElevationClient 创建海拔客户端
func NewHTTPElevationClient(baseURL string, timeout time.Duration) *HTTPElevationClient {
	return &HTTPElevationClient{jsonAPI: newJSONAPI("elevation API", baseURL, timeout)}
}

// Elevation 查询坐标海拔（米），接口按坐标列表返回，这里只取第一个
func (c *HTTPElevationClient) Elevation(ctx context.Context, latitude, longitude float64) (float64, error) {
	var resp struct {
		Elevation []float64 `json:"elevation"`
	}
	q := url.Values{
		"latitude":  {strconv.FormatFloat(latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(longitude, 'f', -1, 64)},
	}
	if err := c.getJSON(ctx, "/v1/elevation", q, &resp); err != nil {
		return 0, err
	}
	if len(resp.Elevation) == 0 {
		return 0, task.Permanentf("坐标 (%v, %v) 没有海拔数据", latitude, longitude)
	}
	return resp.Elevation[0], nil
}

// LookupTeam 按名称模糊查找球队（名称/简称/缩写/城市，大小写不敏感）
func (c *HTTPStatsClient) LookupTeam(ctx context.Context, name string) ([]Team, error) {
	var resp struct {
		Teams []Team `json:"teams"`
	}
	if err := c.getJSON(ctx, "/api/v1/teams", url.Values{"sportId": {"1"}}, &resp); err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(name))
	var out []Team
	for _, t := range resp.Teams {
		for _, field := range []string{t.Name, t.TeamName, t.ShortName, t.Abbreviation, t.LocationName, strconv.Itoa(t.ID)} {
			if field != "" && strings.Contains(strings.ToLower(field), needle) {
				out = append(out, t)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, task.Permanentf("未找到球队: %s", name)
	}
	return out, nil
}

// Schedule 查询球队在日期区间内的比赛ID
// 日期支持 YYYY-MM-DD 或 MM/DD/YYYY
func (c *HTTPStatsClient) Schedule(ctx context.Context, teamID int, startDate, endDate string) ([]int, error) {
	start, err := apiDate(startDate)
	if err != nil {
		return nil, err
	}
	end, err := apiDate(endDate)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Dates []struct {
			Games []struct {
				GamePK int `json:"gamePk"`
			} `json:"games"`
		} `json:"dates"`
	}
	q := url.Values{
		"sportId":   {"1"},
		"teamId":    {strconv.Itoa(teamID)},
		"startDate": {start},
		"endDate":   {end},
	}
	if err := c.getJSON(ctx, "/api/v1/schedule", q, &resp); err != nil {
		return nil, err
	}

	var ids []int
	for _, d := range resp.Dates {
		for _, g := range d.Games {
			ids = append(ids, g.GamePK)
		}
	}
	return ids, nil
}

type boxscoreTeam struct {
	Team struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		TeamName string `json:"teamName"`
	} `json:"team"`
	TeamStats struct {
		Batting struct {
			Runs int `json:"runs"`
		} `json:"batting"`
	} `json:"teamStats"`
}

func (t boxscoreTeam) name() string {
	if t.Team.TeamName != "" {
		return t.Team.TeamName
	}
	if t.Team.Name != "" {
		return t.Team.Name
	}
	return "Unknown"
}

// Boxscore 查询单场比分
func (c *HTTPStatsClient) Boxscore(ctx context.Context, gameID int) (*Boxscore, error) {
	var resp struct {
		Teams struct {
			Home boxscoreTeam `json:"home"`
			Away boxscoreTeam `json:"away"`
		} `json:"teams"`
		Info []struct {
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"info"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/game/%d/boxscore", gameID), nil, &resp); err != nil {
		return nil, err
	}

	b := &Boxscore{
		GameID:     gameID,
		HomeTeamID: resp.Teams.Home.Team.ID,
		HomeTeam:   resp.Teams.Home.name(),
		AwayTeamID: resp.Teams.Away.Team.ID,
		AwayTeam:   resp.Teams.Away.name(),
		HomeScore:  resp.Teams.Home.TeamStats.Batting.Runs,
		AwayScore:  resp.Teams.Away.TeamStats.Batting.Runs,
	}
	for _, item := range resp.Info {
		if item.Label == "T" {
			b.GameTime = strings.TrimSuffix(item.Value, ".")
			break
		}
	}
	return b, nil
}

type boxscorePlayer struct {
	Person struct {
		ID       int    `json:"id"`
		FullName string `json:"fullName"`
	} `json:"person"`
	Position struct {
		Abbreviation string `json:"abbreviation"`
	} `json:"position"`
	BattingOrder string `json:"battingOrder"`
	Stats        struct {
		Batting  BattingLine `json:"batting"`
		Pitching struct {
			PitchingLine
			Note string `json:"note"`
		} `json:"pitching"`
	} `json:"stats"`
	SeasonStats struct {
		Batting struct {
			Avg string `json:"avg"`
			OBP string `json:"obp"`
			SLG string `json:"slg"`
			OPS string `json:"ops"`
		} `json:"batting"`
		Pitching struct {
			ERA string `json:"era"`
		} `json:"pitching"`
	} `json:"seasonStats"`
}

type playerBoxscoreTeam struct {
	boxscoreTeam
	Batters  []int                     `json:"batters"`
	Pitchers []int                     `json:"pitchers"`
	Players  map[string]boxscorePlayer `json:"players"`
}

func (t playerBoxscoreTeam) lines(ids []int) []PlayerLine {
	out := make([]PlayerLine, 0, len(ids))
	for _, id := range ids {
		p, ok := t.Players["ID"+strconv.Itoa(id)]
		if !ok {
			continue
		}
		line := PlayerLine{
			PlayerID:     p.Person.ID,
			Name:         p.Person.FullName,
			Position:     p.Position.Abbreviation,
			BattingOrder: p.BattingOrder,
			Note:         p.Stats.Pitching.Note,
			Batting:      p.Stats.Batting,
			Pitching:     p.Stats.Pitching.PitchingLine,
		}
		line.Batting.Avg = p.SeasonStats.Batting.Avg
		line.Batting.OBP = p.SeasonStats.Batting.OBP
		line.Batting.SLG = p.SeasonStats.Batting.SLG
		line.Batting.OPS = p.SeasonStats.Batting.OPS
		line.Pitching.ERA = p.SeasonStats.Pitching.ERA
		out = append(out, line)
	}
	return out
}

func (t playerBoxscoreTeam) side() TeamBoxscore {
	return TeamBoxscore{
		TeamID:   t.Team.ID,
		TeamName: t.name(),
		Batters:  t.lines(t.Batters),
		Pitchers: t.lines(t.Pitchers),
	}
}

// PlayerBoxscore 查询单场球员数据，打者和投手按上场顺序
func (c *HTTPStatsClient) PlayerBoxscore(ctx context.Context, gameID int) (*PlayerBoxscore, error) {
	var resp struct {
		Teams struct {
			Home playerBoxscoreTeam `json:"home"`
			Away playerBoxscoreTeam `json:"away"`
		} `json:"teams"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/game/%d/boxscore", gameID), nil, &resp); err != nil {
		return nil, err
	}
	return &PlayerBoxscore{
		GameID: gameID,
		Home:   resp.Teams.Home.side(),
		Away:   resp.Teams.Away.side(),
	}, nil
}

// GameLocation 查询比赛场馆
func (c *HTTPStatsClient) GameLocation(ctx context.Context, gameID int) (*GameLocation, error) {
	var resp struct {
		GameData struct {
			Venue struct {
				ID       int    `json:"id"`
				Name     string `json:"name"`
				Location struct {
					City               string  `json:"city"`
					State              string  `json:"state"`
					PostalCode         string  `json:"postalCode"`
					Country            string  `json:"country"`
					Elevation          float64 `json:"elevation"`
					DefaultCoordinates struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"defaultCoordinates"`
				} `json:"location"`
			} `json:"venue"`
		} `json:"gameData"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1.1/game/%d/feed/live", gameID), nil, &resp); err != nil {
		return nil, err
	}

	v := resp.GameData.Venue
	return &GameLocation{
		GameID:     gameID,
		VenueID:    v.ID,
		Name:       v.Name,
		City:       v.Location.City,
		State:      v.Location.State,
		PostalCode: v.Location.PostalCode,
		Country:    v.Location.Country,
		Latitude:   v.Location.DefaultCoordinates.Latitude,
		Longitude:  v.Location.DefaultCoordinates.Longitude,
		Elevation:  v.Location.Elevation,
	}, nil
}

// getJSON 发起GET请求并按状态码分类错误
func (c *jsonAPI) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return task.Permanentf("构造请求失败: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return task.Transientf("读取响应失败 %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return task.Transientf("%s %s 返回 %d", c.name, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return task.Permanentf("%s %s 返回 %d: %s", c.name, path, resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return task.Permanentf("解析响应失败 %s: %w", path, err)
	}
	return nil
}

func classifyTransportError(path string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return task.Timeout(fmt.Errorf("请求 %s 超时: %w", path, err))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return task.Transientf("请求 %s 失败: %w", path, err)
}

// apiDate 统一转为API要求的 MM/DD/YYYY
func apiDate(s string) (string, error) {
	for _, layout := range []string{"2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("01/02/2006"), nil
		}
	}
	return "", task.Permanentf("日期格式非法: %q", s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// 确保实现接口
var _ StatsClient = (*HTTPStatsClient)(nil)
