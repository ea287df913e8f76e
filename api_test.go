package codedrop

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(newTestService(t), nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAPI_Port(t *testing.T) {
	srv := newTestAPI(t)

	var port PortResponse
	if code := doJSON(t, "GET", srv.URL+"/sessions/tab-1/port", "", &port); code != 200 {
		t.Fatalf("GET port: status %d", code)
	}
	if port.Port != 5000 {
		t.Fatalf("default port: got %d, want 5000", port.Port)
	}

	var ok SuccessResponse
	doJSON(t, "PUT", srv.URL+"/sessions/tab-1/port", `{"port": 8123}`, &ok)
	if !ok.Success {
		t.Fatalf("PUT port: got %+v", ok)
	}

	for _, body := range []string{`{"port": 80}`, `{"port": 5000.5}`, `{"port": "x"}`, `{}`} {
		var resp SuccessResponse
		doJSON(t, "PUT", srv.URL+"/sessions/tab-1/port", body, &resp)
		if resp.Success {
			t.Errorf("PUT port %s: got success", body)
		}
	}

	doJSON(t, "GET", srv.URL+"/sessions/tab-1/port", "", &port)
	if port.Port != 8123 {
		t.Fatalf("port: got %d, want 8123", port.Port)
	}
}

func TestAPI_Activation(t *testing.T) {
	srv := newTestAPI(t)

	var act ActivationResponse
	doJSON(t, "GET", srv.URL+"/activation", "", &act)
	if !act.IsActive {
		t.Fatal("default activation: got false")
	}

	var ok SuccessResponse
	doJSON(t, "PUT", srv.URL+"/activation", `{"isActive": false}`, &ok)
	if !ok.Success {
		t.Fatalf("PUT activation: got %+v", ok)
	}
	doJSON(t, "GET", srv.URL+"/activation", "", &act)
	if act.IsActive {
		t.Fatal("activation: got true, want false")
	}

	ok = SuccessResponse{}
	doJSON(t, "PUT", srv.URL+"/activation", `{}`, &ok)
	if ok.Success {
		t.Fatal("PUT activation without isActive: got success")
	}
}

func TestAPI_Blocks(t *testing.T) {
	srv := newTestAPI(t)
	base := srv.URL + "/sessions/tab-1/blocks"

	var st BlockStatusResponse
	doJSON(t, "GET", base+"/-1234", "", &st)
	if st.Status != "absent" {
		t.Fatalf("status: got %q, want absent", st.Status)
	}

	var ok SuccessResponse
	doJSON(t, "PUT", base+"/-1234", `{"status": "sent"}`, &ok)
	if !ok.Success {
		t.Fatalf("PUT status: got %+v", ok)
	}
	ok = SuccessResponse{}
	doJSON(t, "PUT", base+"/-1234", `{"status": "bogus"}`, &ok)
	if ok.Success {
		t.Fatal("PUT bogus status: got success")
	}

	var list BlockListResponse
	doJSON(t, "GET", base, "", &list)
	if len(list.Blocks) != 1 || list.Blocks[0].Status != "sent" {
		t.Fatalf("list: got %+v", list)
	}

	var sessions SessionsResponse
	doJSON(t, "GET", srv.URL+"/sessions", "", &sessions)
	if len(sessions.Stored) != 1 || sessions.Stored[0] != "tab-1" {
		t.Fatalf("sessions: got %+v", sessions)
	}

	doJSON(t, "DELETE", srv.URL+"/sessions/tab-1", "", &ok)
	if !ok.Success {
		t.Fatalf("DELETE session: got %+v", ok)
	}
	doJSON(t, "GET", base+"/-1234", "", &st)
	if st.Status != "absent" {
		t.Fatalf("status after end: got %q, want absent", st.Status)
	}
}

func TestAPI_SubmitAndTestConnection(t *testing.T) {
	srv := newTestAPI(t)
	port, codes := newBackend(t, "success")

	var ok SuccessResponse
	doJSON(t, "PUT", srv.URL+"/sessions/tab-1/port", `{"port": `+strconv.Itoa(port)+`}`, &ok)
	if !ok.Success {
		t.Fatalf("PUT port: got %+v", ok)
	}

	var res SubmitResponse
	doJSON(t, "POST", srv.URL+"/sessions/tab-1/submit", `{"code": "@@FILE@@ x.go\npackage x"}`, &res)
	if !res.Success || res.HTTPStatus != 200 {
		t.Fatalf("submit: got %+v", res)
	}
	if len(*codes) != 1 || (*codes)[0] != "@@FILE@@ x.go\npackage x" {
		t.Fatalf("backend got %q", *codes)
	}

	var ping TestConnectionResponse
	doJSON(t, "GET", srv.URL+"/test_connection?port="+strconv.Itoa(port), "", &ping)
	if !ping.Success {
		t.Fatalf("test_connection: got %+v", ping)
	}

	var e map[string]string
	if code := doJSON(t, "GET", srv.URL+"/test_connection?port=22", "", &e); code != 400 {
		t.Fatalf("test_connection bad port: status %d, want 400", code)
	}
	if e["error"] == "" {
		t.Fatal("test_connection bad port: missing error")
	}
}

func TestAPI_BadRequests(t *testing.T) {
	srv := newTestAPI(t)

	var e map[string]string
	if code := doJSON(t, "PUT", srv.URL+"/activation", `{not json`, &e); code != 400 {
		t.Fatalf("bad json: status %d, want 400", code)
	}
	if code := doJSON(t, "GET", srv.URL+"/sessions/%20tab/port", "", &e); code != 400 {
		t.Fatalf("bad session: status %d, want 400", code)
	}
}

func TestAPI_ClearTerminalBlockRescans(t *testing.T) {
	e := newEndpoints(newTestService(t))
	var rescanned []string
	e.rescan = func(id string) { rescanned = append(rescanned, id) }
	srv := httptest.NewServer(newRouter(e, nil))
	t.Cleanup(srv.Close)
	url := srv.URL + "/sessions/tab-1/blocks/97"

	var ok SuccessResponse
	doJSON(t, "PUT", url, `{"status": "sent"}`, &ok)
	if !ok.Success || len(rescanned) != 0 {
		t.Fatalf("PUT sent: got %+v, rescans %v", ok, rescanned)
	}

	ok = SuccessResponse{}
	doJSON(t, "PUT", url, `{"status": "absent"}`, &ok)
	if !ok.Success {
		t.Fatalf("PUT absent: got %+v", ok)
	}
	if len(rescanned) != 1 || rescanned[0] != "tab-1" {
		t.Fatalf("rescans: got %v, want [tab-1]", rescanned)
	}

	var st BlockStatusResponse
	doJSON(t, "GET", url, "", &st)
	if st.Status != "absent" {
		t.Fatalf("status: got %q, want absent", st.Status)
	}
}
