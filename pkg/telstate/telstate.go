// pkg/telstate/telstate.go

package telstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"SpeadFlow/pkg/utils"
	"SpeadFlow/pkg/version"

	"github.com/redis/go-redis/v9"
)

var logger = utils.GetLogger("speadflow")

var Background = context.Background()

const allSessions = "sessions"
const sessionInfos = "sessionInfos"
const sessionStats = "sessionStats"
const nextSession = "nextsession"

// SessionInfo describes one receiver process registered in the telescope
// state store.
type SessionInfo struct {
	Version      string
	Hostname     string
	Pid          int
	Endpoints    []string
	Eviction     string
	MaxChunks    int64
	ProcessStart string
}

// Session pairs a session id with its info and last published statistics.
type Session struct {
	Sid       int64
	Heartbeat int64
	Info      *SessionInfo
	Stats     json.RawMessage `json:",omitempty"`
}

func newSessionInfo() (*SessionInfo, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %s", err)
	}
	return &SessionInfo{
		Version:      version.Version(),
		Hostname:     host,
		Pid:          os.Getpid(),
		ProcessStart: utils.Now().Add(-utils.Clock()).Format(time.RFC3339),
	}, nil
}

// Client keeps receiver state in Redis, the way telescope deployments track
// their ingest processes.
type Client struct {
	rdb *redis.Client
	sid int64
}

// NewClient connects to the state store at a redis:// URL.
func NewClient(url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %s", url, err)
	}
	rdb := redis.NewClient(opt)
	if err = rdb.Ping(Background).Err(); err != nil {
		return nil, fmt.Errorf("ping %s: %s", url, err)
	}
	return &Client{rdb: rdb}, nil
}

// NewSession registers this process and starts the heartbeat.
func (t *Client) NewSession(endpoints []string, eviction string, maxChunks int64) error {
	var err error
	t.sid, err = t.rdb.Incr(Background, nextSession).Result()
	if err != nil {
		return fmt.Errorf("create session: %s", err)
	}
	logger.Debugf("session is %d", t.sid)
	t.rdb.ZAdd(Background, allSessions, redis.Z{Score: float64(time.Now().Unix()), Member: strconv.Itoa(int(t.sid))})
	info, err := newSessionInfo()
	if err != nil {
		return err
	}
	info.Endpoints = endpoints
	info.Eviction = eviction
	info.MaxChunks = maxChunks
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("json: %s", err)
	}
	t.rdb.HSet(Background, sessionInfos, t.sid, data)

	go t.refreshSession()
	return nil
}

func (t *Client) refreshSession() {
	for {
		time.Sleep(time.Minute)
		t.rdb.ZAdd(Background, allSessions, redis.Z{Score: float64(time.Now().Unix()), Member: strconv.Itoa(int(t.sid))})
		go t.cleanStaleSessions()
	}
}

// PublishStats stores the latest statistics snapshot for this session.
func (t *Client) PublishStats(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warnf("marshal stats: %s", err)
		return
	}
	if err = t.rdb.HSet(Background, sessionStats, t.sid, data).Err(); err != nil {
		logger.Warnf("publish stats: %s", err)
	}
}

// CloseSession removes this process from the registry.
func (t *Client) CloseSession() {
	sid := strconv.Itoa(int(t.sid))
	t.rdb.ZRem(Background, allSessions, sid)
	t.rdb.HDel(Background, sessionInfos, sid)
	t.rdb.HDel(Background, sessionStats, sid)
}

func (t *Client) cleanStaleSessions() {
	staleTime := time.Now().Add(-time.Minute * 5).Unix()
	rng := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(staleTime, 10)}
	stale, err := t.rdb.ZRangeByScore(Background, allSessions, rng).Result()
	if err != nil {
		return
	}
	for _, sid := range stale {
		t.rdb.HDel(Background, sessionInfos, sid)
		t.rdb.HDel(Background, sessionStats, sid)
		t.rdb.ZRem(Background, allSessions, sid)
		logger.Infof("cleanup stale session %s", sid)
	}
}

// GetSession fetches one registered session by id.
func (t *Client) GetSession(sid int64) (*Session, error) {
	score, err := t.rdb.ZScore(Background, allSessions, strconv.Itoa(int(sid))).Result()
	if err != nil {
		return nil, fmt.Errorf("session %d not found", sid)
	}
	return t.loadSession(sid, int64(score))
}

func (t *Client) loadSession(sid int64, heartbeat int64) (*Session, error) {
	data, err := t.rdb.HGet(Background, sessionInfos, strconv.Itoa(int(sid))).Bytes()
	if err != nil {
		return nil, err
	}
	var info SessionInfo
	if err = json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	s := &Session{Sid: sid, Heartbeat: heartbeat, Info: &info}
	if stats, err := t.rdb.HGet(Background, sessionStats, strconv.Itoa(int(sid))).Bytes(); err == nil {
		s.Stats = stats
	}
	return s, nil
}

// ListSessions returns every live session ordered by heartbeat.
func (t *Client) ListSessions() ([]*Session, error) {
	vals, err := t.rdb.ZRangeWithScores(Background, allSessions, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(vals))
	for _, v := range vals {
		sid, _ := strconv.ParseInt(v.Member.(string), 10, 64)
		s, err := t.loadSession(sid, int64(v.Score))
		if err != nil {
			logger.Warnf("load session %d: %s", sid, err)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
