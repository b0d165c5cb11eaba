// Package guard vets client submitted blocks before they reach the node.
package guard

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/nano-wallet-gateway/address"
	"github.com/toncenter/nano-wallet-gateway/amount"
	"github.com/toncenter/nano-wallet-gateway/models"
	"github.com/toncenter/nano-wallet-gateway/rpc"
)

var (
	ErrReceiveRace    = errors.New("receive race condition detected")
	ErrInvalidBlock   = errors.New("invalid block")
	ErrWorkGeneration = errors.New("failed work_generate in process request")
)

const bananoDifficulty = "fffffe0000000000"

// LinkMarker remembers links of recently processed blocks.
type LinkMarker interface {
	Mark(ctx context.Context, link string) error
}

type Guard struct {
	node   *rpc.Client
	work   *rpc.WorkDispatcher
	links  LinkMarker
	banano bool
	logger *logrus.Logger
}

func New(node *rpc.Client, work *rpc.WorkDispatcher, links LinkMarker, banano bool, logger *logrus.Logger) *Guard {
	return &Guard{node: node, work: work, links: links, banano: banano, logger: logger}
}

// Process checks the block for a receive race, generates work if asked to and
// forwards it to the node. The node answer is returned verbatim.
func (g *Guard) Process(ctx context.Context, req models.ProcessRequest) ([]byte, error) {
	var block map[string]any
	if err := json.Unmarshal([]byte(req.Block), &block); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBlock, err.Error())
	}
	var parsed models.Block
	if err := json.Unmarshal([]byte(req.Block), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBlock, err.Error())
	}
	log := g.logger.WithFields(logrus.Fields{"account": parsed.Account, "previous": parsed.Previous})

	isChange := req.Subtype == "change"
	if !isChange && parsed.Link != "" {
		if parsed.IsChange() {
			isChange = true
		} else if err := g.links.Mark(ctx, parsed.Link); err != nil {
			log.WithError(err).Warn("failed to cache link")
		}
	}

	if parsed.IsState() && parsed.Previous != "" && parsed.Balance != "" && parsed.Link != "" {
		race, err := g.receiveRace(ctx, &parsed)
		if err != nil {
			log.WithError(err).Warn("receive race check skipped")
		} else if race {
			log.Error("receive race condition detected")
			return nil, ErrReceiveRace
		}
	}

	subtype := req.Subtype
	if req.DoWork && parsed.Work == "" {
		work, opens, err := g.generateWork(ctx, &parsed, subtype)
		if err != nil {
			log.WithError(err).Error("work generation for process failed")
			return nil, ErrWorkGeneration
		}
		block["work"] = work
		if opens && parsed.IsState() && subtype == "" {
			subtype = "open"
		}
	}
	if subtype == "" && isChange {
		subtype = "change"
	}

	encoded, err := json.Marshal(block)
	if err != nil {
		return nil, err
	}
	process := models.ProcessRequest{Action: "process", Block: string(encoded), Subtype: subtype}
	return g.node.Call(ctx, process)
}

// receiveRace reports whether the block sends to a link that is an existing block,
// i.e. the client meant to receive it but computed the balance wrong.
func (g *Guard) receiveRace(ctx context.Context, block *models.Block) (bool, error) {
	info, err := g.node.BlocksInfo(ctx, []string{block.Previous})
	if err != nil {
		return false, err
	}
	entry, ok := info.Blocks[block.Previous]
	if !ok {
		return false, fmt.Errorf("previous block not found: %s", info.Error)
	}
	prevBalance, err := priorBalance(entry)
	if err != nil {
		return false, err
	}
	balance, err := amount.Parse(block.Balance)
	if err != nil {
		return false, err
	}
	if !balance.Lt(prevBalance) {
		return false, nil
	}

	link := block.Link
	if address.HasPrefix(link, g.banano) {
		if link, err = address.Decode(link, g.banano); err != nil {
			return false, err
		}
	}
	linked, err := g.node.Block(ctx, link)
	if err != nil {
		return false, err
	}
	return linked.Error == "" && len(linked.Contents) > 0, nil
}

func priorBalance(entry models.BlocksInfoEntry) (*uint256.Int, error) {
	prev, err := models.DecodeContents(entry.Contents)
	if err != nil {
		return nil, err
	}
	switch {
	case prev.IsState():
		return amount.Parse(prev.Balance)
	case prev.Balance != "":
		return amount.ParseHex(prev.Balance)
	default:
		return amount.Parse(entry.Balance)
	}
}

// generateWork returns the work for the block and whether the block opens its account.
func (g *Guard) generateWork(ctx context.Context, block *models.Block, subtype string) (string, bool, error) {
	base := block.Previous
	opens := block.OpensAccount()
	if opens {
		key, err := address.PubKey(block.Account)
		if err != nil {
			return "", true, err
		}
		base = strings.ToUpper(hex.EncodeToString(key))
	}

	request := map[string]any{"action": "work_generate", "hash": base}
	if g.banano {
		request["difficulty"] = bananoDifficulty
		request["reward"] = false
	} else if subtype != "" {
		request["subtype"] = subtype
	}
	work, err := g.work.Work(ctx, request)
	return work, opens, err
}
