// Package espp computes the Norwegian taxes of a US broker account holding
// employer stock: ESPP purchases, RSU vests, dividends, sales and the cash
// wired home.
//
// The core functionalities include:
//   - Lot Ledger: every acquisition is a lot, sales and transfers consume
//     lots FIFO, splitting them when they are only partly sold.
//   - Tax Deduction: the yearly risk-free return ("skjerming") accrues on
//     the lots held at the end of the year and is spent on dividends first,
//     then on positive sale gains.
//   - Cash Account: sale proceeds and dividends land in a USD account;
//     wires out of it are matched with the amounts received in Norway and
//     the currency gain is computed FIFO.
//   - Holdings: the lots and cash left at the end of a year are persisted
//     as an exact decimal JSON snapshot that opens the next year.
//
// An Engine processes one year at a time from a normalized transaction
// stream, using a Provider for market data.
package espp
