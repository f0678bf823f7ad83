package deployment

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// revertReason replays a failed transaction as a call at its block to recover the revert data.
func revertReason(ctx context.Context, client ethereum.ContractCaller, from common.Address, tx *types.Transaction, receipt *types.Receipt) (string, error) {
	call := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Data:     tx.Data(),
		Value:    tx.Value(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
	}
	_, err := client.CallContract(ctx, call, receipt.BlockNumber)
	if err == nil {
		return "", fmt.Errorf("tx %s reverted with no reason", tx.Hash().Hex())
	}
	var d rpc.DataError
	if errors.As(err, &d) {
		if data, ok := d.ErrorData().(string); ok && data != "" {
			return data, nil
		}
	}
	return err.Error(), nil
}

func parseErrorFromABI(errorString string, contractABI abi.ABI) (string, error) {
	errorString = strings.TrimPrefix(errorString, "Reverted ")
	errorString = strings.TrimPrefix(errorString, "0x")

	data, err := hex.DecodeString(errorString)
	if err != nil {
		return "", errors.Wrap(err, "error decoding error string")
	}
	if len(data) < 4 {
		return "", errors.New("error data shorter than a selector")
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason, nil
	}
	for errorName, abiError := range contractABI.Errors {
		if bytes.Equal(data[:4], abiError.ID.Bytes()[:4]) {
			v, err := abiError.Unpack(data)
			if err != nil {
				return "", errors.Wrap(err, "error unpacking data")
			}
			return fmt.Sprintf("error -`%v` args %v", errorName, v), nil
		}
	}
	return "", errors.New("error not found in ABI")
}

// DecodeErr decodes an error from a contract call using the contract's ABI.
// If the error carries no decodable data it is returned unchanged.
func DecodeErr(contractABI abi.ABI, err error) error {
	if err == nil {
		return nil
	}
	var d rpc.DataError
	if !errors.As(err, &d) {
		return err
	}
	encErr, ok := d.ErrorData().(string)
	if !ok {
		return fmt.Errorf("error without error data: %w", err)
	}
	errStr, parseErr := parseErrorFromABI(encErr, contractABI)
	if parseErr != nil {
		return fmt.Errorf("failed to decode error '%s' with abi: %w", encErr, err)
	}
	return fmt.Errorf("contract error: %s: %w", errStr, err)
}
