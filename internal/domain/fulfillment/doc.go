// Package fulfillment contains the order fulfillment bounded context.
// It turns orders from the e-commerce platform into warehouse fulfillment requests.
//
// Key concepts:
//   - InboundOrder: order record as returned by the e-commerce platform
//   - FulfillmentRequest: payload accepted by the warehouse management system
//   - ProcessRecord: lifecycle of one webhook-triggered pipeline run
//   - Normalizers: pure conversions for country, currency, amounts and addresses
//   - MapOrder: the business mapping between both schemas
//
// Design Pattern: Ports & Adapters
//   - Ports (OrderSource, Deliverer, ProcessRecordRepository, OrderLocker,
//     ConfirmationStore) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package fulfillment
