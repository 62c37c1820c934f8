package driver

import (
	"bytes"

	"psi"
	"psi/receiver"
)

// RunQuery takes client through one full query against driver. The client
// reloads parameters only when the server's differ from the ones it has.
func RunQuery(driver PSIServerDriver, client *receiver.Client, items []psi.Item) ([]psi.MatchRecord, error) {
	var none int
	var blob []byte
	if err := driver.Parameters(&none, &blob); err != nil {
		return nil, err
	}
	if ps, ok := client.Parameters(); !ok || !bytes.Equal(ps.MustSave(), blob) {
		if err := client.SetParameters(blob); err != nil {
			return nil, err
		}
	}

	req, err := client.CreateOPRFRequest(items)
	if err != nil {
		return nil, err
	}
	var oprfResp Message
	if err := driver.OPRF(&Message{Data: req}, &oprfResp); err != nil {
		client.Reset()
		return nil, err
	}
	hashed, _, err := client.ExtractHashes(oprfResp.Data)
	if err != nil {
		client.Reset()
		return nil, err
	}

	query, err := client.CreateQuery(hashed)
	if err != nil {
		return nil, err
	}
	var result QueryResult
	if err := driver.Query(&Message{Data: query}, &result); err != nil {
		return nil, err
	}
	return client.ProcessResult(result.Data)
}
