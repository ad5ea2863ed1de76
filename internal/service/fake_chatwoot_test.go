package service

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"chatwootbridge/pkg/chatwoot"
	cwtypes "chatwootbridge/pkg/chatwoot/types"

	"github.com/gorilla/mux"
)

const (
	routeSearchContacts     = "search-contacts"
	routeCreateContact      = "create-contact"
	routeListConversations  = "list-conversations"
	routeCreateConversation = "create-conversation"
	routeCreateMessage      = "create-message"
)

type fakeAttachment struct {
	Filename    string
	ContentType string
	Size        int
}

type fakeCall struct {
	Route      string
	Query      string
	JSON       map[string]interface{}
	Content    string
	Attachment *fakeAttachment
}

// fakeChatwoot is an in-memory account that records every request it serves
type fakeChatwoot struct {
	mu            sync.Mutex
	nextID        int
	contacts      []cwtypes.Contact
	conversations []cwtypes.Conversation
	calls         []fakeCall

	failConversationCreate bool
}

func newFakeChatwoot(t *testing.T) (*fakeChatwoot, chatwoot.Client) {
	t.Helper()

	f := &fakeChatwoot{nextID: 100}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1/accounts/3").Subrouter()
	api.HandleFunc("/contacts/search/", f.searchContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts", f.createContact).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{id:[0-9]+}/conversations", f.listConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", f.createConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", f.createMessage).Methods(http.MethodPost)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return f, chatwoot.NewClient(server.URL, "test-token", 3, 7, server.Client())
}

func (f *fakeChatwoot) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Route == route {
			n++
		}
	}
	return n
}

func (f *fakeChatwoot) callsTo(route string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Route == route {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeChatwoot) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChatwoot) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeChatwoot) searchContacts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query().Get("q")
	f.calls = append(f.calls, fakeCall{Route: routeSearchContacts, Query: q})

	result := cwtypes.ContactSearchResult{Payload: []cwtypes.Contact{}}
	for _, c := range f.contacts {
		if strings.TrimPrefix(c.PhoneNumber, "+") == q {
			result.Payload = append(result.Payload, c)
		}
	}
	result.Meta.Count = len(result.Payload)
	writeJSON(w, http.StatusOK, result)
}

func (f *fakeChatwoot) createContact(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body := decodeBody(r)
	f.calls = append(f.calls, fakeCall{Route: routeCreateContact, JSON: body})

	contact := cwtypes.Contact{
		ID:          f.id(),
		Name:        asString(body["name"]),
		PhoneNumber: asString(body["phone_number"]),
	}
	f.contacts = append(f.contacts, contact)

	var resp cwtypes.CreateContactResponse
	resp.Payload.Contact = contact
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeChatwoot) listConversations(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contactID, _ := strconv.Atoi(mux.Vars(r)["id"])
	f.calls = append(f.calls, fakeCall{Route: routeListConversations})

	list := cwtypes.ConversationList{Payload: []cwtypes.Conversation{}}
	for _, c := range f.conversations {
		if c.ContactID == contactID {
			list.Payload = append(list.Payload, c)
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (f *fakeChatwoot) createConversation(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body := decodeBody(r)
	f.calls = append(f.calls, fakeCall{Route: routeCreateConversation, JSON: body})

	if f.failConversationCreate {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	conversation := cwtypes.Conversation{
		ID:        f.id(),
		InboxID:   int(asFloat(body["inbox_id"])),
		ContactID: int(asFloat(body["contact_id"])),
		SourceID:  asString(body["source_id"]),
		Status:    cwtypes.ConversationStatus(asString(body["status"])),
	}
	f.conversations = append(f.conversations, conversation)
	writeJSON(w, http.StatusOK, conversation)
}

func (f *fakeChatwoot) createMessage(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conversationID, _ := strconv.Atoi(mux.Vars(r)["id"])
	call := fakeCall{Route: routeCreateMessage}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		call.Content = r.FormValue("content")
		call.JSON = map[string]interface{}{
			"message_type": r.FormValue("message_type"),
			"private":      r.FormValue("private"),
		}
		if files := r.MultipartForm.File["attachments[]"]; len(files) > 0 {
			call.Attachment = &fakeAttachment{
				Filename:    files[0].Filename,
				ContentType: files[0].Header.Get("Content-Type"),
				Size:        int(files[0].Size),
			}
		}
	} else {
		call.JSON = decodeBody(r)
		call.Content = asString(call.JSON["content"])
	}
	f.calls = append(f.calls, call)

	writeJSON(w, http.StatusOK, cwtypes.Message{
		ID:             f.id(),
		Content:        call.Content,
		MessageType:    0,
		ConversationID: conversationID,
	})
}

func decodeBody(r *http.Request) map[string]interface{} {
	data, _ := io.ReadAll(r.Body)
	body := map[string]interface{}{}
	_ = json.Unmarshal(data, &body)
	return body
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
