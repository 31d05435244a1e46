package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSBase    = "ws://localhost:8080"
	PairCount = 500 // ⚠️ Start small. Database might choke on 1000 immediately.
	MsgCount  = 20  // Messages per user
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Fullname string `json:"fullname"`
}

type RoomResponse struct {
	RoomID int `json:"room_id"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	// Pairs: User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA, _ := authenticate(userA, pass)
	tokenB, idB := authenticate(userB, pass)

	if tokenA == "" || tokenB == "" {
		return // Failed auth
	}

	roomID := startRoom(tokenA, idB)
	if roomID == 0 {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)

	go spamRoom(&wsWg, tokenA, roomID, userA)
	go spamRoom(&wsWg, tokenB, roomID, userB)

	wsWg.Wait()
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(fullname, password string) (string, int) {
	postJSON("/register", map[string]string{
		"fullname": fullname,
		"email":    fullname + "@loadtest.local",
		"password": password,
	})

	resp, err := postJSON("/login", map[string]string{"fullname": fullname, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", fullname, err)
		return "", 0
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token, data.ID
}

func startRoom(token string, targetID int) int {
	body, _ := json.Marshal(map[string]int{"target_id": targetID})
	req, _ := http.NewRequest("POST", BaseURL+"/api/conversations", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != 200 {
		log.Printf("❌ Start Room Failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data RoomResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.RoomID
}

func spamRoom(wg *sync.WaitGroup, token string, roomID int, user string) {
	defer wg.Done()

	url := fmt.Sprintf("%s/ws/chat/room/%d?token=%s", WSBase, roomID, token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	// Drain inbound events so the server's send buffer never fills.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		msg := map[string]any{
			"action":  "send",
			"message": fmt.Sprintf("LoadTest Msg %d from %s", i, user),
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", user, err)
			break
		}
		// Small sleep to prevent instant localhost bottleneck
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", user, MsgCount)
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
