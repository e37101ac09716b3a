// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package cmdrunner

import "encoding/json"

// resultJSON is one element of the top-level "results" array.
type resultJSON struct {
	Result        string         `json:"result"`
	ErrorDetails  *errorDetails  `json:"error_details,omitempty"`
}

type errorDetails struct {
	Message string `json:"message"`
}

type coreJSON struct {
	Core    int      `json:"core"`
	Role    string   `json:"role"`
	RxPort  []string `json:"rx_port"`
	TxPort  []string `json:"tx_port"`
}

type classifierJSON struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Port  string `json:"port"`
}

type latencyJSON struct {
	Count   uint64   `json:"count"`
	AvgNs   uint64   `json:"avg_ns"`
	Buckets []uint64 `json:"buckets"`
}

type infoJSON struct {
	ClientID   int              `json:"client-id"`
	Phy        []uint16         `json:"phy"`
	Vhost      []uint16         `json:"vhost"`
	Ring       []uint16         `json:"ring"`
	MasterLcore int             `json:"master-lcore"`
	Core        []coreJSON      `json:"core"`
	ClsTable    []classifierJSON `json:"classifier_table"`
	Latency     *latencyJSON     `json:"latency,omitempty"`
}

// responseJSON is the full response envelope.
type responseJSON struct {
	Results     []resultJSON `json:"results"`
	ClientID    *int         `json:"client_id,omitempty"`
	ProcessType *string      `json:"process_type,omitempty"`
	Info        *infoJSON    `json:"info,omitempty"`
}

// BuildResponse renders one batch's results plus any requested
// additive fields into the JSON response.
func BuildResponse(d Deps, results []Result, extra Extra) ([]byte, error) {
	resp := responseJSON{Results: make([]resultJSON, 0, len(results))}

	for _, r := range results {
		if r.OK {
			resp.Results = append(resp.Results, resultJSON{Result: "success"})
			continue
		}
		msg := r.Message
		if msg == "" {
			msg = "invalid"
		}
		if msg == "invalid" {
			resp.Results = append(resp.Results, resultJSON{Result: "invalid"})
			continue
		}
		resp.Results = append(resp.Results, resultJSON{
			Result:       "error",
			ErrorDetails: &errorDetails{Message: msg},
		})
	}

	if extra.WantClientID {
		id := d.ClientID()
		resp.ClientID = &id
		pt := d.ProcessType()
		resp.ProcessType = &pt
	}

	if extra.WantStatus {
		st := d.StatusInfo()
		info := &infoJSON{
			ClientID:    st.ClientID,
			Phy:         orEmpty(st.Phy),
			Vhost:       orEmpty(st.Vhost),
			Ring:        orEmpty(st.Ring),
			MasterLcore: st.MasterLcore,
			Core:        make([]coreJSON, 0, len(st.Cores)),
			ClsTable:    make([]classifierJSON, 0, len(st.Classifier)),
		}
		for _, c := range st.Cores {
			info.Core = append(info.Core, coreJSON{
				Core: c.Core, Role: c.Role,
				RxPort: orEmptyStr(c.RxPorts), TxPort: orEmptyStr(c.TxPorts),
			})
		}
		for _, e := range st.Classifier {
			info.ClsTable = append(info.ClsTable, classifierJSON{Type: e.Type, Value: e.Value, Port: e.Port})
		}
		if st.Latency != nil {
			info.Latency = &latencyJSON{Count: st.Latency.Count, AvgNs: st.Latency.AvgNs, Buckets: st.Latency.Buckets}
		}
		resp.Info = info
	}

	return json.Marshal(resp)
}

// orEmpty/orEmptyStr ensure JSON arrays render as "[]" rather than
// "null" when empty, matching cmd_res_formatter.c's array formatting.
func orEmpty(s []uint16) []uint16 {
	if s == nil {
		return []uint16{}
	}
	return s
}

func orEmptyStr(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
